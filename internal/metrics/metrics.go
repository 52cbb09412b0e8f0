package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deconflict_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deconflict_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deconflict_analyses_total",
			Help: "Completed analyses by outcome (clear, conflict, error).",
		},
		[]string{"status"},
	)

	conflictEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deconflict_conflict_entries_total",
			Help: "Conflict entries reported across all analyses.",
		},
	)

	flightsCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deconflict_flights_checked_total",
			Help: "Simulated flights checked against a primary mission.",
		},
	)

	skippedFlightsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deconflict_skipped_flights_total",
			Help: "Simulated flights skipped because they failed validation.",
		},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deconflict_analysis_duration_seconds",
			Help:    "Time spent building trajectories and detecting conflicts.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		analysesTotal,
		conflictEntriesTotal,
		flightsCheckedTotal,
		skippedFlightsTotal,
		analysisDurationSeconds,
	)
}

// Outcome labels for ObserveAnalysis
const (
	OutcomeClear    = "clear"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// ObserveAnalysis records one finished analysis
func ObserveAnalysis(outcome string, flights, entries, skipped int, duration time.Duration) {
	analysesTotal.WithLabelValues(outcome).Inc()
	flightsCheckedTotal.Add(float64(flights))
	conflictEntriesTotal.Add(float64(entries))
	skippedFlightsTotal.Add(float64(skipped))
	analysisDurationSeconds.Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

var knownRoutes = map[string]bool{
	"/":              true,
	"/metrics":       true,
	"/api/v1/check":  true,
	"/api/v1/health": true,
}

// normalizeRoute keeps label cardinality bounded; unknown paths collapse to "other"
func normalizeRoute(path string) string {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if knownRoutes[path] {
		return path
	}
	return "other"
}
