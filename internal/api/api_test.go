package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yegors/uav-deconflict/internal/analysis"
	"github.com/yegors/uav-deconflict/internal/config"
	"github.com/yegors/uav-deconflict/internal/mission"
	"github.com/yegors/uav-deconflict/pkg/logger"
)

const missionBody = `{
  "mission_id": "P001",
  "time_window": {"start": "2025-11-20T09:00:00Z", "end": "2025-11-20T09:01:40Z"},
  "waypoints": [{"x": 0, "y": 0, "z": 0}, {"x": 100, "y": 0, "z": 0}]
}`

func checkBody(flights string, extra string) string {
	return `{"mission": ` + missionBody + `, "flights": ` + flights + extra + `}`
}

const onPath = `{"flight_id": "S1", "waypoints": [
  {"t": "2025-11-20T09:00:00Z", "x": 50, "y": 0},
  {"t": "2025-11-20T09:01:40Z", "x": 50, "y": 0}]}`

const farAway = `{"flight_id": "S2", "waypoints": [
  {"t": "2025-11-20T09:00:00Z", "x": 50, "y": 200},
  {"t": "2025-11-20T09:01:40Z", "x": 50, "y": 200}]}`

func newTestRouter(t *testing.T, mutate func(cfg *config.Config)) http.Handler {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	log := logger.NewNop()
	svc := analysis.NewService(mission.NewFetcher(time.Second, log), log)
	return NewRouter(svc, cfg, log).Routes()
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCheckConflict(t *testing.T) {
	rec := post(t, newTestRouter(t, nil), checkBody("["+onPath+","+farAway+"]", `, "safety_buffer_m": 10, "dt": 1`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	_, err := uuid.Parse(resp.AnalysisID)
	assert.NoError(t, err)
	assert.Equal(t, "P001", resp.MissionID)
	assert.Equal(t, "conflict", resp.Status)
	assert.Empty(t, resp.Skipped)
	require.Len(t, resp.Report.Conflicts, 1)
	assert.Equal(t, "S1", resp.Report.Conflicts[0].FlightID)
	assert.Equal(t, "2025-11-20T09:00:50.000Z", resp.Report.Conflicts[0].TimeOfMin)

	require.NotNil(t, resp.Margin)
	assert.Equal(t, "S1", resp.Margin.FlightID)
}

func TestCheckUsesConfiguredDefaults(t *testing.T) {
	// S2 stays 200 m away, so only the configured 250 m buffer flags it
	h := newTestRouter(t, func(cfg *config.Config) { cfg.Analysis.SafetyBufferM = 250 })

	rec := post(t, h, checkBody("["+farAway+"]", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conflict", resp.Status)
}

func TestCheckClearHasEmptyLists(t *testing.T) {
	rec := post(t, newTestRouter(t, nil), checkBody("["+farAway+"]", `, "safety_buffer_m": 10`))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "clear", raw["status"])
	assert.Equal(t, []any{}, raw["skipped"])
	assert.Equal(t, []any{}, raw["report"].(map[string]any)["conflicts"])
}

func TestCheckIsolatesInvalidFlights(t *testing.T) {
	broken := `{"flight_id": "BAD", "waypoints": [{"t": "2025-11-20T09:00:00Z", "x": 0, "y": 0}]}`

	h := newTestRouter(t, nil)
	rec := post(t, h, checkBody("["+broken+","+onPath+"]", `, "safety_buffer_m": 10`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = post(t, h, checkBody("["+broken+","+onPath+"]", `, "safety_buffer_m": 10, "isolate_flights": true`))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Skipped, 1)
	assert.Equal(t, "BAD", resp.Skipped[0].FlightID)
	assert.Equal(t, "conflict", resp.Status)
}

func TestCheckErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{"invalid json", `{"mission":`, http.StatusBadRequest, "bad_request"},
		{"wrong types", `{"mission": "P001"}`, http.StatusBadRequest, "bad_request"},
		{"missing mission", `{"flights": []}`, http.StatusUnprocessableEntity, "validation_error"},
		{"zero dt", checkBody("[]", `, "dt": 0`), http.StatusUnprocessableEntity, "validation_error"},
		{"negative buffer", checkBody("[]", `, "safety_buffer_m": -5`), http.StatusUnprocessableEntity, "validation_error"},
		{"denormal dt", checkBody("["+onPath+"]", `, "dt": 1e-300`), http.StatusUnprocessableEntity, "validation_error"},
		{"dt over sample budget", checkBody("["+onPath+"]", `, "dt": 1e-5`), http.StatusUnprocessableEntity, "validation_error"},
		{"bad mission window", `{"mission": {"mission_id": "P", "time_window": {"start": "later", "end": "2025-11-20T09:00:00Z"}, "waypoints": []}}`,
			http.StatusUnprocessableEntity, "validation_error"},
	}

	h := newTestRouter(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotEmpty(t, resp.Message)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestCheckTinyDtWithParallelWorkers(t *testing.T) {
	h := newTestRouter(t, func(cfg *config.Config) { cfg.Analysis.Workers = 4 })

	for _, dt := range []string{"1e-300", "1e-5"} {
		rec := post(t, h, checkBody("["+onPath+","+farAway+"]", `, "dt": `+dt))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, dt)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Message, "limit is 1000000", dt)
	}

	// The server is still serving
	rec := post(t, h, checkBody("["+onPath+"]", `, "safety_buffer_m": 10`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckIncludePaths(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := post(t, h, checkBody("["+onPath+","+farAway+"]", `, "safety_buffer_m": 10`))
	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "paths")

	rec = post(t, h, checkBody("["+onPath+","+farAway+"]", `, "safety_buffer_m": 10, "dt": 10, "include_paths": true`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Paths)
	assert.Equal(t, "P001", resp.Paths.MissionID)
	assert.Len(t, resp.Paths.Primary.Times, 11)
	assert.Len(t, resp.Paths.Primary.Positions, 11)
	require.Len(t, resp.Paths.Flights, 2)
	assert.Equal(t, "S1", resp.Paths.Flights[0].ID)
	assert.Equal(t, "S2", resp.Paths.Flights[1].ID)
	assert.Len(t, resp.Paths.Conflicts, len(resp.Report.Conflicts[0].ConflictTimes))
}

// brokenWriter accepts headers but fails every body write
type brokenWriter struct {
	header http.Header
	status int
}

func (w *brokenWriter) Header() http.Header { return w.header }

func (w *brokenWriter) WriteHeader(status int) { w.status = status }

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestHandlerLogsFailedWrites(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{Logger: zap.New(core)}
	svc := analysis.NewService(mission.NewFetcher(time.Second, logger.NewNop()), logger.NewNop())
	h := NewHandler(svc, config.Default(), log)

	w := &brokenWriter{header: http.Header{}}
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.status)

	w = &brokenWriter{header: http.Header{}}
	h.Check(w, httptest.NewRequest(http.MethodPost, "/api/v1/check", strings.NewReader(`{"mission":`)))
	assert.Equal(t, http.StatusBadRequest, w.status)

	require.Equal(t, 1, logs.FilterMessage("Failed to write response").Len())
	require.Equal(t, 1, logs.FilterMessage("Failed to write error response").Len())
	entry := logs.FilterMessage("Failed to write response").All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, int64(http.StatusOK), entry.ContextMap()["status"])
	assert.Contains(t, entry.ContextMap()["error"], "connection reset by peer")
}

func TestCheckBodyLimit(t *testing.T) {
	h := newTestRouter(t, func(cfg *config.Config) { cfg.Server.MaxBodyBytes = 64 })

	rec := post(t, h, checkBody("["+onPath+"]", ""))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, func(cfg *config.Config) {
		cfg.Server.CORSAllowedOrigins = []string{"https://ops.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/check", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)
	post(t, h, checkBody("["+onPath+"]", `, "safety_buffer_m": 10`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `deconflict_http_requests_total{code="200",method="POST",path="/api/v1/check"}`)
	assert.Contains(t, rec.Body.String(), "deconflict_analyses_total")
}

func TestServerServeAndShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.MaxConnections = 4
	srv := NewServer(cfg, newTestRouter(t, nil), logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
