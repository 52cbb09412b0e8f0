package report

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/uav-deconflict/internal/conflict"
	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// 2025-11-20T09:00:00Z
const missionStart = 1763629200.0

func sampleEntry() conflict.Entry {
	return conflict.Entry{
		FlightID: "S001",
		Times:    []float64{missionStart, missionStart + 0.5},
		Positions: []conflict.PositionPair{
			{Primary: trajectory.NewPosition(1.00049, 2, 100), Other: trajectory.NewPosition(1.5, 2.0004, 100)},
			{Primary: trajectory.NewPosition(-0.0001, 2, 100), Other: trajectory.NewPosition(1.5, 2, 100.12345)},
		},
		MinDistance: 1.23456,
		TimeOfMin:   missionStart + 0.5,
		Explanation: "Flight S001 came within 1.23 m",
	}
}

func TestFormatConflict(t *testing.T) {
	f := NewFormatter(10)

	r, err := f.Format(conflict.Result{
		Status:  conflict.StatusConflict,
		Entries: []conflict.Entry{sampleEntry()},
	})
	require.NoError(t, err)

	assert.Equal(t, "conflict", r.Status)
	assert.True(t, r.HasConflict())
	require.Len(t, r.Conflicts, 1)

	e := r.Conflicts[0]
	assert.Equal(t, "S001", e.FlightID)
	assert.Equal(t, []string{"2025-11-20T09:00:00.000Z", "2025-11-20T09:00:00.500Z"}, e.ConflictTimes)
	assert.Equal(t, "2025-11-20T09:00:00.500Z", e.TimeOfMin)
	assert.Equal(t, 1.235, e.MinDistanceM)
	assert.Equal(t, 0.877, e.RiskScore)
	assert.Equal(t, "Flight S001 came within 1.23 m", e.Explanation)

	require.Len(t, e.ConflictPositions, 2)
	assert.Equal(t, [3]float64{1, 2, 100}, e.ConflictPositions[0].Primary)
	assert.Equal(t, [3]float64{1.5, 2, 100}, e.ConflictPositions[0].Sim)
	assert.Equal(t, [3]float64{0, 2, 100}, e.ConflictPositions[1].Primary)
	assert.Equal(t, [3]float64{1.5, 2, 100.123}, e.ConflictPositions[1].Sim)
}

func TestFormatClearSerializesEmptyList(t *testing.T) {
	r, err := NewFormatter(50).Format(conflict.Result{Status: conflict.StatusClear})
	require.NoError(t, err)
	assert.False(t, r.HasConflict())

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))
	assert.JSONEq(t, `{"status":"clear","conflicts":[]}`, buf.String())

	// A zero value report must not encode null either
	buf.Reset()
	require.NoError(t, Report{Status: "clear"}.WriteJSON(&buf))
	assert.JSONEq(t, `{"status":"clear","conflicts":[]}`, buf.String())
}

func TestFormatJSONShape(t *testing.T) {
	r, err := NewFormatter(10).FormatEntries(conflict.StatusConflict, []conflict.Entry{sampleEntry()})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	conflicts := decoded["conflicts"].([]any)
	require.Len(t, conflicts, 1)
	entry := conflicts[0].(map[string]any)
	for _, key := range []string{"flight_id", "conflict_times", "conflict_positions", "min_distance_m", "time_of_min", "risk_score", "explanation"} {
		assert.Contains(t, entry, key)
	}

	pair := entry["conflict_positions"].([]any)[0].(map[string]any)
	assert.Contains(t, pair, "primary")
	assert.Contains(t, pair, "sim")
	assert.NotContains(t, buf.String(), "-0,")
}

func TestFormatIsDeterministic(t *testing.T) {
	f := NewFormatter(10)
	result := conflict.Result{Status: conflict.StatusConflict, Entries: []conflict.Entry{sampleEntry(), sampleEntry()}}

	var first, second bytes.Buffer
	r1, err := f.Format(result)
	require.NoError(t, err)
	require.NoError(t, r1.WriteJSON(&first))
	r2, err := f.Format(result)
	require.NoError(t, err)
	require.NoError(t, r2.WriteJSON(&second))

	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestFormatShapeValidation(t *testing.T) {
	mutate := func(fn func(e *conflict.Entry)) []conflict.Entry {
		e := sampleEntry()
		fn(&e)
		return []conflict.Entry{e}
	}

	tests := []struct {
		name    string
		status  conflict.Status
		entries []conflict.Entry
	}{
		{"unknown status", conflict.Status("maybe"), nil},
		{"clear with entries", conflict.StatusClear, []conflict.Entry{sampleEntry()}},
		{"conflict without entries", conflict.StatusConflict, nil},
		{"missing flight id", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.FlightID = "" })},
		{"no times", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.Times, e.Positions = nil, nil })},
		{"length mismatch", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.Positions = e.Positions[:1] })},
		{"infinite min distance", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.MinDistance = math.Inf(1) })},
		{"negative min distance", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.MinDistance = -1 })},
		{"nan time of min", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.TimeOfMin = math.NaN() })},
		{"nan conflict time", conflict.StatusConflict, mutate(func(e *conflict.Entry) { e.Times[1] = math.NaN() })},
		{"nan position", conflict.StatusConflict, mutate(func(e *conflict.Entry) {
			e.Positions[0].Other = trajectory.NewPosition(math.NaN(), 0, 0)
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFormatter(10).FormatEntries(tt.status, tt.entries)
			assert.ErrorIs(t, err, trajectory.ErrValidation)
		})
	}

	_, err := (&Formatter{Precision: -1}).FormatEntries(conflict.StatusClear, nil)
	assert.ErrorIs(t, err, trajectory.ErrValidation)
}

func TestFormatterCustomLayoutAndPrecision(t *testing.T) {
	f := &Formatter{Precision: 1, TimeLayout: "15:04:05"}

	r, err := f.FormatEntries(conflict.StatusConflict, []conflict.Entry{sampleEntry()})
	require.NoError(t, err)

	assert.Equal(t, "09:00:00", r.Conflicts[0].ConflictTimes[0])
	assert.Equal(t, 1.2, r.Conflicts[0].MinDistanceM)
	assert.Equal(t, 0.0, r.Conflicts[0].RiskScore, "no buffer means no risk score")

	// Zero value falls back to the default layout
	assert.Equal(t, "1970-01-01T00:00:01.000Z", (&Formatter{}).FormatTime(0.9999999))
}

func TestFromUnixSeconds(t *testing.T) {
	got := FromUnixSeconds(missionStart + 0.25)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 250_000_000, got.Nanosecond())

	neg := FromUnixSeconds(-1.5)
	assert.Equal(t, int64(-2), neg.Unix())
	assert.Equal(t, 500_000_000, neg.Nanosecond())
}

func TestClosest(t *testing.T) {
	r := Report{Conflicts: []Entry{
		{FlightID: "a", MinDistanceM: 5},
		{FlightID: "b", MinDistanceM: 2},
		{FlightID: "c", MinDistanceM: 2},
	}}
	best, ok := r.Closest()
	require.True(t, ok)
	assert.Equal(t, "b", best.FlightID)

	_, ok = Report{}.Closest()
	assert.False(t, ok)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "report.json")

	r, err := NewFormatter(10).Format(conflict.Result{
		Status:  conflict.StatusConflict,
		Entries: []conflict.Entry{sampleEntry()},
	})
	require.NoError(t, err)
	require.NoError(t, r.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
