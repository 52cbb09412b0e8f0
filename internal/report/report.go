package report

import (
	"fmt"
	"math"
	"time"

	"github.com/yegors/uav-deconflict/internal/conflict"
	"github.com/yegors/uav-deconflict/internal/trajectory"
)

const (
	// DefaultTimeLayout renders instants in UTC with millisecond precision
	DefaultTimeLayout = "2006-01-02T15:04:05.000Z07:00"
	// DefaultPrecision is the number of decimals kept for meters
	DefaultPrecision = 3
)

// Report is the serializable outcome of one analysis
type Report struct {
	Status    string  `json:"status"`
	Conflicts []Entry `json:"conflicts"`
}

// Entry is one flight's conflicts against the primary mission
type Entry struct {
	FlightID          string         `json:"flight_id"`
	ConflictTimes     []string       `json:"conflict_times"`
	ConflictPositions []PositionPair `json:"conflict_positions"`
	MinDistanceM      float64        `json:"min_distance_m"`
	TimeOfMin         string         `json:"time_of_min"`
	RiskScore         float64        `json:"risk_score"`
	Explanation       string         `json:"explanation"`
}

// PositionPair holds the primary and simulated positions at one conflict instant
type PositionPair struct {
	Primary [3]float64 `json:"primary"`
	Sim     [3]float64 `json:"sim"`
}

// HasConflict reports whether the report carries any conflict
func (r Report) HasConflict() bool {
	return r.Status == string(conflict.StatusConflict)
}

// Closest returns the entry with the smallest minimum distance.
// Ties keep the earlier entry.
func (r Report) Closest() (Entry, bool) {
	if len(r.Conflicts) == 0 {
		return Entry{}, false
	}
	best := r.Conflicts[0]
	for _, e := range r.Conflicts[1:] {
		if e.MinDistanceM < best.MinDistanceM {
			best = e
		}
	}
	return best, true
}

// Formatter turns detector output into a Report
type Formatter struct {
	// Precision is the number of decimals kept for distances and coordinates
	Precision int
	// TimeLayout is a time.Format layout; empty means DefaultTimeLayout
	TimeLayout string
	// SafetyBufferM feeds the risk score; zero leaves the score at 0
	SafetyBufferM float64
}

// NewFormatter creates a formatter with the default layout and precision
func NewFormatter(safetyBufferM float64) *Formatter {
	return &Formatter{
		Precision:     DefaultPrecision,
		TimeLayout:    DefaultTimeLayout,
		SafetyBufferM: safetyBufferM,
	}
}

// Format converts a detector result
func (f *Formatter) Format(result conflict.Result) (Report, error) {
	return f.FormatEntries(result.Status, result.Entries)
}

// FormatEntries converts a status and its entries, checking that they agree
// with each other. Timestamps are read as Unix seconds.
func (f *Formatter) FormatEntries(status conflict.Status, entries []conflict.Entry) (Report, error) {
	if f.Precision < 0 {
		return Report{}, fmt.Errorf("%w: precision must not be negative, got %d", trajectory.ErrValidation, f.Precision)
	}

	switch status {
	case conflict.StatusClear:
		if len(entries) > 0 {
			return Report{}, fmt.Errorf("%w: status clear with %d conflict entries", trajectory.ErrValidation, len(entries))
		}
	case conflict.StatusConflict:
		if len(entries) == 0 {
			return Report{}, fmt.Errorf("%w: status conflict without conflict entries", trajectory.ErrValidation)
		}
	default:
		return Report{}, fmt.Errorf("%w: unknown status %q", trajectory.ErrValidation, status)
	}

	out := Report{
		Status:    string(status),
		Conflicts: make([]Entry, 0, len(entries)),
	}
	for i, e := range entries {
		entry, err := f.formatEntry(e)
		if err != nil {
			return Report{}, fmt.Errorf("entry %d: %w", i, err)
		}
		out.Conflicts = append(out.Conflicts, entry)
	}

	return out, nil
}

func (f *Formatter) formatEntry(e conflict.Entry) (Entry, error) {
	if e.FlightID == "" {
		return Entry{}, fmt.Errorf("%w: entry has no flight id", trajectory.ErrValidation)
	}
	if len(e.Times) == 0 {
		return Entry{}, fmt.Errorf("%w: flight %s has no conflict times", trajectory.ErrValidation, e.FlightID)
	}
	if len(e.Times) != len(e.Positions) {
		return Entry{}, fmt.Errorf("%w: flight %s has %d conflict times but %d position pairs",
			trajectory.ErrValidation, e.FlightID, len(e.Times), len(e.Positions))
	}
	if !isFinite(e.MinDistance) || e.MinDistance < 0 {
		return Entry{}, fmt.Errorf("%w: flight %s has invalid minimum distance %v", trajectory.ErrValidation, e.FlightID, e.MinDistance)
	}
	if !isFinite(e.TimeOfMin) {
		return Entry{}, fmt.Errorf("%w: flight %s has a non-finite time of minimum", trajectory.ErrValidation, e.FlightID)
	}

	entry := Entry{
		FlightID:          e.FlightID,
		ConflictTimes:     make([]string, len(e.Times)),
		ConflictPositions: make([]PositionPair, len(e.Positions)),
		MinDistanceM:      f.Round(e.MinDistance),
		TimeOfMin:         f.FormatTime(e.TimeOfMin),
		RiskScore:         f.Round(conflict.RiskScore(e.MinDistance, f.SafetyBufferM)),
		Explanation:       e.Explanation,
	}

	for i, ts := range e.Times {
		if !isFinite(ts) {
			return Entry{}, fmt.Errorf("%w: flight %s has a non-finite conflict time", trajectory.ErrValidation, e.FlightID)
		}
		entry.ConflictTimes[i] = f.FormatTime(ts)
	}
	for i, p := range e.Positions {
		if !p.Primary.IsFinite() || !p.Other.IsFinite() {
			return Entry{}, fmt.Errorf("%w: flight %s has a non-finite position", trajectory.ErrValidation, e.FlightID)
		}
		entry.ConflictPositions[i] = PositionPair{
			Primary: f.roundPosition(p.Primary),
			Sim:     f.roundPosition(p.Other),
		}
	}

	return entry, nil
}

// FormatTime renders Unix seconds in UTC
func (f *Formatter) FormatTime(unixSeconds float64) string {
	layout := f.TimeLayout
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return FromUnixSeconds(unixSeconds).Format(layout)
}

// FromUnixSeconds converts float Unix seconds to a UTC time rounded to the microsecond
func FromUnixSeconds(s float64) time.Time {
	sec := math.Floor(s)
	nsec := math.Round((s - sec) * 1e9)
	return time.Unix(int64(sec), int64(nsec)).UTC().Round(time.Microsecond)
}

// Round rounds v to the formatter precision, never returning -0
func (f *Formatter) Round(v float64) float64 {
	scale := math.Pow(10, float64(f.Precision))
	r := math.Round(v*scale) / scale
	if r == 0 {
		// Avoid "-0" in the output
		return 0
	}
	return r
}

func (f *Formatter) roundPosition(p trajectory.Position) [3]float64 {
	return [3]float64{f.Round(p.X()), f.Round(p.Y()), f.Round(p.Z())}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
