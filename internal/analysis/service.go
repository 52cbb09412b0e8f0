package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/uav-deconflict/internal/config"
	"github.com/yegors/uav-deconflict/internal/conflict"
	"github.com/yegors/uav-deconflict/internal/metrics"
	"github.com/yegors/uav-deconflict/internal/mission"
	"github.com/yegors/uav-deconflict/internal/report"
	"github.com/yegors/uav-deconflict/internal/trajectory"
	"github.com/yegors/uav-deconflict/pkg/logger"
)

// Options are the per-run analysis parameters
type Options struct {
	SafetyBufferM float64
	Dt            float64
	Use3D         bool
	IncludeEnd    bool
	Workers       int
	// IsolateFlights skips simulated flights that fail validation instead
	// of failing the whole run
	IsolateFlights bool
	// MaxSamples caps the instants sampled per flight pair; 0 means
	// trajectory.DefaultMaxSamples
	MaxSamples int
	// IncludePaths adds the sampled flight paths to the result
	IncludePaths bool
	Precision    int
	TimeLayout   string
}

// DefaultOptions matches the CLI defaults
func DefaultOptions() Options {
	return Options{
		SafetyBufferM: 50,
		Dt:            1,
		MaxSamples:    trajectory.DefaultMaxSamples,
		Precision:     report.DefaultPrecision,
		TimeLayout:    report.DefaultTimeLayout,
	}
}

// OptionsFromConfig builds options from the analysis and report sections
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SafetyBufferM:  cfg.Analysis.SafetyBufferM,
		Dt:             cfg.Analysis.DtSeconds,
		Use3D:          cfg.Analysis.Use3D,
		IncludeEnd:     cfg.Analysis.IncludeEnd,
		Workers:        cfg.Analysis.Workers,
		IsolateFlights: cfg.Analysis.IsolateFlights,
		MaxSamples:     cfg.Analysis.MaxSamples,
		Precision:      cfg.Report.Precision,
		TimeLayout:     cfg.Report.TimeLayout,
	}
}

func (o Options) params() conflict.Params {
	return conflict.Params{
		SafetyBufferM: o.SafetyBufferM,
		Step:          o.Dt,
		Use3D:         o.Use3D,
		IncludeEnd:    o.IncludeEnd,
		Workers:       o.Workers,
		MaxSamples:    o.MaxSamples,
	}
}

func (o Options) formatter() *report.Formatter {
	return &report.Formatter{
		Precision:     o.Precision,
		TimeLayout:    o.TimeLayout,
		SafetyBufferM: o.SafetyBufferM,
	}
}

// SkippedFlight is a simulated flight left out of an isolated run
type SkippedFlight struct {
	Index    int    `json:"index"`
	FlightID string `json:"flight_id,omitempty"`
	Reason   string `json:"reason"`
}

// Margin is the closest approach of any simulated flight to the primary
type Margin struct {
	FlightID  string  `json:"flight_id"`
	DistanceM float64 `json:"distance_m"`
	Time      string  `json:"time"`
}

// Result is the outcome of one analysis
type Result struct {
	MissionID string
	Report    report.Report
	Skipped   []SkippedFlight
	// Margin is nil when no flight overlaps the primary in time
	Margin *Margin
	// Paths is set when Options.IncludePaths is
	Paths    *report.Paths
	Duration time.Duration
}

// Service runs missions through trajectory building, conflict detection
// and report formatting
type Service struct {
	fetcher *mission.Fetcher
	logger  *logger.Logger
}

// NewService creates a new analysis service
func NewService(fetcher *mission.Fetcher, logger *logger.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		logger:  logger.Named("analysis"),
	}
}

// Analyze checks an already validated mission against simulated flights
func (s *Service) Analyze(ctx context.Context, m *mission.Mission, flights []*mission.SimulatedFlight, opts Options) (Result, error) {
	return s.run(ctx, m, flights, nil, opts)
}

// AnalyzeDocuments converts raw documents and analyzes them. With
// IsolateFlights, flights that fail to convert are reported in
// Result.Skipped; otherwise the first one aborts the run.
func (s *Service) AnalyzeDocuments(ctx context.Context, missionDoc mission.MissionDocument, flightDocs []mission.FlightDocument, opts Options) (Result, error) {
	m, err := missionDoc.ToMission()
	if err != nil {
		metrics.ObserveAnalysis(metrics.OutcomeError, 0, 0, 0, 0)
		return Result{}, err
	}

	flights := make([]*mission.SimulatedFlight, 0, len(flightDocs))
	var skipped []SkippedFlight
	for i, doc := range flightDocs {
		f, err := doc.ToSimulatedFlight()
		if err == nil {
			flights = append(flights, f)
			continue
		}
		if !opts.IsolateFlights {
			metrics.ObserveAnalysis(metrics.OutcomeError, 0, 0, 0, 0)
			return Result{}, fmt.Errorf("flight at index %d: %w", i, err)
		}

		s.logger.Warn("Skipping invalid simulated flight",
			logger.Int("index", i),
			logger.String("flight_id", doc.FlightID),
			logger.Error(err),
		)
		skipped = append(skipped, SkippedFlight{Index: i, FlightID: doc.FlightID, Reason: err.Error()})
	}

	return s.run(ctx, m, flights, skipped, opts)
}

// AnalyzeFiles loads the primary mission from a file and the simulated
// flights from a file or an http(s) feed
func (s *Service) AnalyzeFiles(ctx context.Context, primaryPath, flightsSource string, opts Options) (Result, error) {
	file, err := mission.LoadPrimaryDocument(primaryPath)
	if err != nil {
		metrics.ObserveAnalysis(metrics.OutcomeError, 0, 0, 0, 0)
		return Result{}, err
	}

	docs, err := s.fetcher.FetchDocuments(ctx, flightsSource)
	if err != nil {
		metrics.ObserveAnalysis(metrics.OutcomeError, 0, 0, 0, 0)
		return Result{}, err
	}

	return s.AnalyzeDocuments(ctx, file, docs, opts)
}

func (s *Service) run(ctx context.Context, m *mission.Mission, flights []*mission.SimulatedFlight, skipped []SkippedFlight, opts Options) (Result, error) {
	start := time.Now()

	result, err := s.detect(ctx, m, flights, opts)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(metrics.OutcomeError, len(flights), 0, len(skipped), duration)
		s.logger.Error("Analysis failed", logger.Error(err), logger.Duration("duration", duration))
		return Result{}, err
	}

	formatter := opts.formatter()
	rep, err := formatter.Format(result)
	if err != nil {
		metrics.ObserveAnalysis(metrics.OutcomeError, len(flights), 0, len(skipped), duration)
		return Result{}, fmt.Errorf("failed to format report: %w", err)
	}

	margin, err := closestMargin(m, flights, opts, formatter)
	if err != nil {
		metrics.ObserveAnalysis(metrics.OutcomeError, len(flights), 0, len(skipped), duration)
		return Result{}, err
	}

	var paths *report.Paths
	if opts.IncludePaths {
		p, err := buildPaths(m, flights, rep, opts, formatter)
		if err != nil {
			metrics.ObserveAnalysis(metrics.OutcomeError, len(flights), 0, len(skipped), duration)
			return Result{}, err
		}
		paths = &p
	}

	outcome := metrics.OutcomeClear
	if result.HasConflict() {
		outcome = metrics.OutcomeConflict
	}
	metrics.ObserveAnalysis(outcome, len(flights), len(result.Entries), len(skipped), duration)

	fields := []logger.Field{
		logger.String("mission_id", m.ID()),
		logger.String("status", rep.Status),
		logger.Int("flights", len(flights)),
		logger.Int("conflicts", len(rep.Conflicts)),
		logger.Int("skipped", len(skipped)),
		logger.Duration("duration", duration),
	}
	if margin != nil {
		fields = append(fields,
			logger.String("closest_flight", margin.FlightID),
			logger.Float64("min_distance_m", margin.DistanceM),
		)
	}
	if rep.HasConflict() {
		ids := make([]string, len(rep.Conflicts))
		for i, c := range rep.Conflicts {
			ids[i] = c.FlightID
		}
		fields = append(fields, logger.Strings("conflicting_flights", ids))
	}
	s.logger.Info("Analysis finished", fields...)

	if skipped == nil {
		skipped = []SkippedFlight{}
	}
	return Result{
		MissionID: m.ID(),
		Report:    rep,
		Skipped:   skipped,
		Margin:    margin,
		Paths:     paths,
		Duration:  duration,
	}, nil
}

// closestMargin finds the smallest separation over all flights. Ties keep
// the earlier flight.
func closestMargin(m *mission.Mission, flights []*mission.SimulatedFlight, opts Options, f *report.Formatter) (*Margin, error) {
	var (
		best   conflict.Approach
		bestID string
		found  bool
	)
	for _, flight := range flights {
		a, ok, err := conflict.ClosestApproach(m.Trajectory(), flight.Trajectory(), opts.Dt, opts.Use3D, opts.MaxSamples)
		if err != nil {
			return nil, fmt.Errorf("flight %s: %w", flight.ID(), err)
		}
		if ok && (!found || a.Distance < best.Distance) {
			best, bestID, found = a, flight.ID(), true
		}
	}
	if !found {
		return nil, nil
	}
	return &Margin{
		FlightID:  bestID,
		DistanceM: f.Round(best.Distance),
		Time:      f.FormatTime(best.Time),
	}, nil
}

// buildPaths samples the primary and every simulated flight on the
// analysis step for plotting
func buildPaths(m *mission.Mission, flights []*mission.SimulatedFlight, rep report.Report, opts Options, f *report.Formatter) (report.Paths, error) {
	window := m.Window()
	primary, err := f.Track(report.TrackSource{
		ID:          m.ID(),
		Start:       window.Start,
		End:         window.End,
		Path:        m.Trajectory(),
		WaypointIDs: waypointIDs(m.Waypoints()),
	}, opts.Dt, opts.MaxSamples)
	if err != nil {
		return report.Paths{}, err
	}

	tracks := make([]report.Track, 0, len(flights))
	for _, flight := range flights {
		start, end := flight.TimeBounds()
		track, err := f.Track(report.TrackSource{
			ID:          flight.ID(),
			Start:       start,
			End:         end,
			Path:        flight.Trajectory(),
			WaypointIDs: waypointIDs(flight.Waypoints()),
			Metadata:    flight.Metadata(),
		}, opts.Dt, opts.MaxSamples)
		if err != nil {
			return report.Paths{}, err
		}
		tracks = append(tracks, track)
	}

	return report.Paths{
		MissionID: m.ID(),
		StepS:     opts.Dt,
		Primary:   primary,
		Flights:   tracks,
		Conflicts: rep.Markers(),
	}, nil
}

func waypointIDs(waypoints []trajectory.Waypoint) []string {
	ids := make([]string, len(waypoints))
	for i, wp := range waypoints {
		ids[i] = wp.ID
	}
	return ids
}

func (s *Service) detect(ctx context.Context, m *mission.Mission, flights []*mission.SimulatedFlight, opts Options) (conflict.Result, error) {
	if m == nil {
		return conflict.Result{}, errors.New("mission is required")
	}
	if err := ctx.Err(); err != nil {
		return conflict.Result{}, err
	}

	others := make([]conflict.Flight, len(flights))
	for i, f := range flights {
		if f == nil {
			return conflict.Result{}, fmt.Errorf("%w: flight at index %d is nil", trajectory.ErrValidation, i)
		}
		others[i] = conflict.Flight{ID: f.ID(), Path: f.Trajectory()}
	}

	s.logger.Debug("Running conflict detection",
		logger.String("mission_id", m.ID()),
		logger.Int("flights", len(others)),
		logger.Float64("safety_buffer_m", opts.SafetyBufferM),
		logger.Float64("dt", opts.Dt),
		logger.Bool("use_3d", opts.Use3D),
		logger.Int("max_samples", opts.MaxSamples),
		logger.Float64("max_speed_mps", m.Constraints().MaxSpeedMPS),
	)

	return conflict.Detect(m.Trajectory(), others, opts.params())
}
