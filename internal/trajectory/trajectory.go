package trajectory

import (
	"fmt"
	"math"
	"sort"
)

// speedTolerance absorbs rounding when comparing required and allowed speeds
const speedTolerance = 1e-6

// DefaultMaxSamples bounds the instants one sampling pass may produce
const DefaultMaxSamples = 1_000_000

// SampleCount returns floor(span/step)+1, the number of step-spaced
// instants that fit in span seconds counting the first one. Counts above
// limit, or too large to represent, fail with ErrValidation before anything
// is allocated. A limit <= 0 means DefaultMaxSamples.
func SampleCount(span, step float64, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultMaxSamples
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return 0, fmt.Errorf("%w: sampling step must be positive, got %v", ErrValidation, step)
	}
	if !(span >= 0) || math.IsInf(span, 0) {
		return 0, fmt.Errorf("%w: sampling span must be finite and non-negative, got %v", ErrValidation, span)
	}

	// span/step may overflow to +Inf; the comparison still rejects it
	n := math.Floor(span/step) + 1
	if n > float64(limit) {
		return 0, fmt.Errorf("%w: sampling %.3f s every %g s needs %.4g samples, limit is %d",
			ErrValidation, span, step, n, limit)
	}
	return int(n), nil
}

// Trajectory is a time-parameterized, piecewise-linear path.
// It is immutable after Build and safe for concurrent reads.
type Trajectory struct {
	times     []float64
	positions []Position
}

// BuildOption configures Build
type BuildOption func(*buildOptions)

type buildOptions struct {
	window   *Window
	maxSpeed float64
}

// WithWindow supplies the mission window.
// It is required when the waypoints carry no timestamps.
func WithWindow(w Window) BuildOption {
	return func(o *buildOptions) {
		o.window = &w
	}
}

// WithMaxSpeed rejects paths that need more than mps meters per second.
// Zero disables the check.
func WithMaxSpeed(mps float64) BuildOption {
	return func(o *buildOptions) {
		o.maxSpeed = mps
	}
}

// Build converts waypoints into a trajectory.
//
// Timed waypoints are used as-is. Untimed waypoints are spread over the
// window proportionally to cumulative path length, so the drone flies the
// whole route at one constant speed. Mixing timed and untimed waypoints is
// rejected.
func Build(waypoints []Waypoint, opts ...BuildOption) (*Trajectory, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 waypoints, got %d", ErrValidation, len(waypoints))
	}
	if o.maxSpeed < 0 || math.IsNaN(o.maxSpeed) {
		return nil, fmt.Errorf("%w: max speed must be non-negative", ErrValidation)
	}
	if o.window != nil {
		if err := o.window.Validate(); err != nil {
			return nil, err
		}
	}

	positions := make([]Position, len(waypoints))
	timed := 0
	for i, wp := range waypoints {
		if !wp.Position.IsFinite() {
			return nil, fmt.Errorf("%w: waypoint %d has a non-finite coordinate", ErrValidation, i)
		}
		positions[i] = wp.Position
		if wp.Timed {
			timed++
		}
	}

	var (
		times []float64
		err   error
	)
	switch timed {
	case len(waypoints):
		times, err = timesFromWaypoints(waypoints, positions, o)
	case 0:
		if o.window == nil {
			return nil, fmt.Errorf("%w: a mission window is required when waypoints have no times", ErrValidation)
		}
		times, err = timesFromWindow(positions, *o.window, o.maxSpeed)
	default:
		return nil, fmt.Errorf("%w: either all or none of the waypoints must have a time (%d of %d timed)", ErrValidation, timed, len(waypoints))
	}
	if err != nil {
		return nil, err
	}

	return newTrajectory(times, positions)
}

// New creates a trajectory from parallel sample slices.
// The slices are copied.
func New(times []float64, positions []Position) (*Trajectory, error) {
	t := make([]float64, len(times))
	copy(t, times)
	p := make([]Position, len(positions))
	copy(p, positions)
	return newTrajectory(t, p)
}

func newTrajectory(times []float64, positions []Position) (*Trajectory, error) {
	tr := &Trajectory{times: times, positions: positions}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

func timesFromWaypoints(waypoints []Waypoint, positions []Position, o buildOptions) ([]float64, error) {
	times := make([]float64, len(waypoints))
	for i, wp := range waypoints {
		if math.IsNaN(wp.Time) || math.IsInf(wp.Time, 0) {
			return nil, fmt.Errorf("%w: waypoint %d has a non-finite time", ErrValidation, i)
		}
		if i > 0 && wp.Time <= times[i-1] {
			return nil, fmt.Errorf("%w: waypoint times must be strictly increasing (waypoint %d at %.3f follows %.3f)",
				ErrValidation, i, wp.Time, times[i-1])
		}
		times[i] = wp.Time
	}

	if o.window != nil {
		first, last := times[0], times[len(times)-1]
		if !o.window.Contains(first) || !o.window.Contains(last) {
			return nil, fmt.Errorf("%w: window [%.3f, %.3f] does not cover waypoint times [%.3f, %.3f]",
				ErrValidation, o.window.Start, o.window.End, first, last)
		}
	}

	if o.maxSpeed > 0 {
		for i := 1; i < len(times); i++ {
			speed := positions[i-1].Distance(positions[i], true) / (times[i] - times[i-1])
			if speed > o.maxSpeed+speedTolerance {
				return nil, fmt.Errorf("%w: segment %d requires %.3f m/s, exceeds max speed %.3f m/s",
					ErrValidation, i, speed, o.maxSpeed)
			}
		}
	}

	return times, nil
}

func timesFromWindow(positions []Position, w Window, maxSpeed float64) ([]float64, error) {
	n := len(positions)
	times := make([]float64, n)
	duration := w.Duration()

	cumulative := make([]float64, n)
	for i := 1; i < n; i++ {
		cumulative[i] = cumulative[i-1] + positions[i-1].Distance(positions[i], true)
	}
	total := cumulative[n-1]

	// Stationary route: spread the waypoints evenly over the window
	if total <= 0 {
		for i := range times {
			times[i] = w.Start + duration*float64(i)/float64(n-1)
		}
		times[n-1] = w.End
		return times, nil
	}

	required := total / duration
	if maxSpeed > 0 && required > maxSpeed+speedTolerance {
		return nil, fmt.Errorf("%w: required speed %.3f m/s exceeds max speed %.3f m/s",
			ErrValidation, required, maxSpeed)
	}

	for i := range times {
		times[i] = w.Start + cumulative[i]/total*duration
	}
	times[n-1] = w.End

	return times, nil
}

// Validate checks the trajectory invariants: at least two samples,
// parallel slices and strictly increasing times.
func (t *Trajectory) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil trajectory", ErrValidation)
	}
	if len(t.times) != len(t.positions) {
		return fmt.Errorf("%w: %d times but %d positions", ErrValidation, len(t.times), len(t.positions))
	}
	if len(t.times) < 2 {
		return fmt.Errorf("%w: trajectory needs at least 2 samples, got %d", ErrValidation, len(t.times))
	}
	for i, ts := range t.times {
		if math.IsNaN(ts) || math.IsInf(ts, 0) {
			return fmt.Errorf("%w: sample %d has a non-finite time", ErrValidation, i)
		}
		if i > 0 && ts <= t.times[i-1] {
			return fmt.Errorf("%w: sample times must be strictly increasing (sample %d)", ErrValidation, i)
		}
		if !t.positions[i].IsFinite() {
			return fmt.Errorf("%w: sample %d has a non-finite position", ErrValidation, i)
		}
	}
	return nil
}

// Len returns the number of samples
func (t *Trajectory) Len() int {
	if t == nil {
		return 0
	}
	return len(t.times)
}

// TimeRange returns the first and last sample times
func (t *Trajectory) TimeRange() (float64, float64, error) {
	if err := t.checkShape(); err != nil {
		return 0, 0, err
	}
	return t.times[0], t.times[len(t.times)-1], nil
}

// Times returns a copy of the sample times
func (t *Trajectory) Times() []float64 {
	if t == nil {
		return nil
	}
	out := make([]float64, len(t.times))
	copy(out, t.times)
	return out
}

// Positions returns a copy of the sample positions
func (t *Trajectory) Positions() []Position {
	if t == nil {
		return nil
	}
	out := make([]Position, len(t.positions))
	copy(out, t.positions)
	return out
}

// PositionAt returns the interpolated position at time ts.
// Waypoint times return the waypoint position exactly.
func (t *Trajectory) PositionAt(ts float64) (Position, error) {
	if err := t.checkShape(); err != nil {
		return Position{}, err
	}

	first, last := t.times[0], t.times[len(t.times)-1]
	if math.IsNaN(ts) || ts < first || ts > last {
		return Position{}, fmt.Errorf("%w: time %.3f outside trajectory range [%.3f, %.3f]", ErrOutOfRange, ts, first, last)
	}

	// Smallest index with times[i] >= ts
	i := sort.SearchFloat64s(t.times, ts)
	if t.times[i] == ts {
		return t.positions[i], nil
	}

	t0, t1 := t.times[i-1], t.times[i]
	return t.positions[i-1].Between(t.positions[i], ts-t0, t1-t0), nil
}

// Sample returns floor(span/step)+1 evenly spaced samples covering both
// ends of the trajectory. At most maxSamples are produced; see SampleCount.
func (t *Trajectory) Sample(step float64, maxSamples int) ([]float64, []Position, error) {
	first, last, err := t.TimeRange()
	if err != nil {
		return nil, nil, err
	}
	n, err := SampleCount(last-first, step, maxSamples)
	if err != nil {
		return nil, nil, err
	}
	if n < 2 {
		n = 2
	}

	times := make([]float64, n)
	positions := make([]Position, n)
	for k := 0; k < n; k++ {
		ts := first + (last-first)*float64(k)/float64(n-1)
		if k == n-1 {
			ts = last
		}
		pos, err := t.PositionAt(ts)
		if err != nil {
			return nil, nil, err
		}
		times[k] = ts
		positions[k] = pos
	}

	return times, positions, nil
}

// checkShape is the cheap subset of Validate run on every lookup
func (t *Trajectory) checkShape() error {
	if t == nil {
		return fmt.Errorf("%w: nil trajectory", ErrValidation)
	}
	if len(t.times) < 2 || len(t.times) != len(t.positions) {
		return fmt.Errorf("%w: malformed trajectory with %d times and %d positions", ErrValidation, len(t.times), len(t.positions))
	}
	return nil
}
