package mission

import (
	"fmt"
	"math"

	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// Constraints are the flight limits attached to a mission
type Constraints struct {
	MaxSpeedMPS float64 // 0 means unconstrained
}

// Mission is the primary drone's planned flight.
// It is validated on construction and read-only afterwards.
type Mission struct {
	id          string
	window      trajectory.Window
	waypoints   []trajectory.Waypoint
	constraints Constraints
	path        *trajectory.Trajectory
}

// NewMission validates the mission and builds its trajectory.
// Waypoints may all carry times, or none of them, in which case they are
// spread over the window.
func NewMission(id string, window trajectory.Window, waypoints []trajectory.Waypoint, constraints Constraints) (*Mission, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: mission id is required", trajectory.ErrValidation)
	}
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("mission %s: %w", id, err)
	}
	if math.IsNaN(constraints.MaxSpeedMPS) || math.IsInf(constraints.MaxSpeedMPS, 0) || constraints.MaxSpeedMPS < 0 {
		return nil, fmt.Errorf("%w: mission %s: max speed must be a non-negative number", trajectory.ErrValidation, id)
	}

	wps := make([]trajectory.Waypoint, len(waypoints))
	copy(wps, waypoints)

	path, err := trajectory.Build(wps,
		trajectory.WithWindow(window),
		trajectory.WithMaxSpeed(constraints.MaxSpeedMPS),
	)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", id, err)
	}

	return &Mission{
		id:          id,
		window:      window,
		waypoints:   wps,
		constraints: constraints,
		path:        path,
	}, nil
}

// ID returns the mission identifier
func (m *Mission) ID() string { return m.id }

// Window returns the mission time window
func (m *Mission) Window() trajectory.Window { return m.window }

// Constraints returns the mission constraints
func (m *Mission) Constraints() Constraints { return m.constraints }

// Waypoints returns a copy of the mission waypoints
func (m *Mission) Waypoints() []trajectory.Waypoint {
	out := make([]trajectory.Waypoint, len(m.waypoints))
	copy(out, m.waypoints)
	return out
}

// Trajectory returns the interpolated path
func (m *Mission) Trajectory() *trajectory.Trajectory { return m.path }

// SimulatedFlight is another drone's known flight
type SimulatedFlight struct {
	id        string
	window    trajectory.Window
	waypoints []trajectory.Waypoint
	metadata  map[string]any
	path      *trajectory.Trajectory
}

// NewSimulatedFlight validates the flight and builds its trajectory.
// Every waypoint must carry a time. A nil window is derived from the
// earliest and latest waypoint times; an explicit one must cover them.
func NewSimulatedFlight(id string, waypoints []trajectory.Waypoint, window *trajectory.Window, metadata map[string]any) (*SimulatedFlight, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: flight id is required", trajectory.ErrValidation)
	}
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: flight %s needs at least 2 waypoints, got %d", trajectory.ErrValidation, id, len(waypoints))
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, wp := range waypoints {
		if !wp.Timed {
			return nil, fmt.Errorf("%w: waypoint %d of flight %s has no time", trajectory.ErrValidation, i, id)
		}
		lo = min(lo, wp.Time)
		hi = max(hi, wp.Time)
	}

	var w trajectory.Window
	if window != nil {
		w = *window
	} else {
		w = trajectory.Window{Start: lo, End: hi}
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("flight %s: %w", id, err)
	}

	wps := make([]trajectory.Waypoint, len(waypoints))
	copy(wps, waypoints)

	path, err := trajectory.Build(wps, trajectory.WithWindow(w))
	if err != nil {
		return nil, fmt.Errorf("flight %s: %w", id, err)
	}

	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	return &SimulatedFlight{
		id:        id,
		window:    w,
		waypoints: wps,
		metadata:  md,
		path:      path,
	}, nil
}

// ID returns the flight identifier
func (f *SimulatedFlight) ID() string { return f.id }

// TimeBounds returns the start and end of the flight window
func (f *SimulatedFlight) TimeBounds() (float64, float64) {
	return f.window.Start, f.window.End
}

// Waypoints returns a copy of the flight waypoints
func (f *SimulatedFlight) Waypoints() []trajectory.Waypoint {
	out := make([]trajectory.Waypoint, len(f.waypoints))
	copy(out, f.waypoints)
	return out
}

// Metadata returns a copy of the free-form flight metadata
func (f *SimulatedFlight) Metadata() map[string]any {
	out := make(map[string]any, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out
}

// Trajectory returns the interpolated path
func (f *SimulatedFlight) Trajectory() *trajectory.Trajectory { return f.path }
