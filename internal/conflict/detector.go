package conflict

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// Validate checks that the detection parameters are usable
func (p Params) Validate() error {
	if !(p.SafetyBufferM > 0) || math.IsInf(p.SafetyBufferM, 0) {
		return fmt.Errorf("%w: safety buffer must be a positive number of meters, got %v", trajectory.ErrValidation, p.SafetyBufferM)
	}
	if !(p.Step > 0) || math.IsInf(p.Step, 0) {
		return fmt.Errorf("%w: sampling step must be positive, got %v", trajectory.ErrValidation, p.Step)
	}
	if p.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", trajectory.ErrValidation, p.Workers)
	}
	if p.MaxSamples < 0 {
		return fmt.Errorf("%w: max samples must not be negative, got %d", trajectory.ErrValidation, p.MaxSamples)
	}
	return nil
}

// Grid returns the sampling instants start, start+step, ... strictly before end.
// With includeEnd, end itself is appended. An empty or inverted interval
// yields no instants. Grids needing more than limit instants fail with
// ErrValidation; a limit <= 0 means trajectory.DefaultMaxSamples.
func Grid(start, end, step float64, includeEnd bool, limit int) ([]float64, error) {
	if !(end > start) {
		return nil, nil
	}
	count, err := trajectory.SampleCount(end-start, step, limit)
	if err != nil {
		return nil, err
	}

	grid := make([]float64, 0, count+1)
	for k := 0; k < count; k++ {
		// Multiply rather than accumulate so long grids do not drift
		t := start + float64(k)*step
		if t >= end {
			break
		}
		grid = append(grid, t)
	}
	if includeEnd {
		grid = append(grid, end)
	}
	return grid, nil
}

// Detect checks the primary path against every other flight.
//
// Each pair is evaluated on its temporal overlap only. Pairs that never
// overlap in time are skipped without sampling. Entries keep the input
// order of others regardless of Workers. The first failing flight, by
// input order, aborts the run.
func Detect(primary Path, others []Flight, params Params) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	if primary == nil {
		return Result{}, fmt.Errorf("%w: primary path is required", trajectory.ErrValidation)
	}

	pStart, pEnd, err := primary.TimeRange()
	if err != nil {
		return Result{}, fmt.Errorf("primary trajectory: %w", err)
	}

	// Reject malformed flights before any sampling happens
	ranges := make([][2]float64, len(others))
	for i, f := range others {
		if f.ID == "" {
			return Result{}, fmt.Errorf("%w: flight at index %d has no identifier", trajectory.ErrValidation, i)
		}
		if f.Path == nil {
			return Result{}, fmt.Errorf("%w: flight %s has no trajectory", trajectory.ErrValidation, f.ID)
		}
		start, end, err := f.Path.TimeRange()
		if err != nil {
			return Result{}, fmt.Errorf("flight %s: %w", f.ID, err)
		}
		if span := min(pEnd, end) - max(pStart, start); span > 0 {
			if _, err := trajectory.SampleCount(span, params.Step, params.MaxSamples); err != nil {
				return Result{}, fmt.Errorf("flight %s: %w", f.ID, err)
			}
		}
		ranges[i] = [2]float64{start, end}
	}

	entries := make([]*Entry, len(others))
	errs := make([]error, len(others))
	evaluate := func(i int) error {
		entries[i], errs[i] = evaluatePair(primary, pStart, pEnd, others[i], ranges[i], params)
		return errs[i]
	}

	if params.Workers > 1 && len(others) > 1 {
		var g errgroup.Group
		g.SetLimit(params.Workers)
		for i := range others {
			g.Go(func() error { return evaluate(i) })
		}
		if g.Wait() != nil {
			// Report the lowest-index failure so errors are reproducible
			for _, err := range errs {
				if err != nil {
					return Result{}, err
				}
			}
		}
	} else {
		for i := range others {
			if err := evaluate(i); err != nil {
				return Result{}, err
			}
		}
	}

	result := Result{Status: StatusClear, Entries: []Entry{}}
	for _, e := range entries {
		if e != nil {
			result.Entries = append(result.Entries, *e)
		}
	}
	if len(result.Entries) > 0 {
		result.Status = StatusConflict
	}

	return result, nil
}

// evaluatePair returns nil when the pair never comes within the buffer
func evaluatePair(primary Path, pStart, pEnd float64, other Flight, otherRange [2]float64, params Params) (*Entry, error) {
	overlapStart := max(pStart, otherRange[0])
	overlapEnd := min(pEnd, otherRange[1])
	if overlapEnd <= overlapStart {
		return nil, nil
	}

	grid, err := Grid(overlapStart, overlapEnd, params.Step, params.IncludeEnd, params.MaxSamples)
	if err != nil {
		return nil, fmt.Errorf("flight %s: %w", other.ID, err)
	}
	if len(grid) == 0 {
		return nil, nil
	}

	minDist := math.Inf(1)
	var timeOfMin float64
	var times []float64
	var pairs []PositionPair

	for _, t := range grid {
		pp, err := primary.PositionAt(t)
		if err != nil {
			return nil, fmt.Errorf("flight %s: primary position at %.3f: %w", other.ID, t, err)
		}
		op, err := other.Path.PositionAt(t)
		if err != nil {
			return nil, fmt.Errorf("flight %s: position at %.3f: %w", other.ID, t, err)
		}

		d := pp.Distance(op, params.Use3D)
		if d < minDist {
			minDist = d
			timeOfMin = t
		}
		if d < params.SafetyBufferM {
			times = append(times, t)
			pairs = append(pairs, PositionPair{Primary: pp, Other: op})
		}
	}

	if len(times) == 0 {
		return nil, nil
	}

	return &Entry{
		FlightID:    other.ID,
		Times:       times,
		Positions:   pairs,
		MinDistance: minDist,
		TimeOfMin:   timeOfMin,
		Explanation: explain(other.ID, minDist, timeOfMin, params.SafetyBufferM, len(times)),
	}, nil
}

func explain(flightID string, minDist, timeOfMin, buffer float64, samples int) string {
	return fmt.Sprintf("Flight %s came within %.2f m of the primary at t=%.3f s, inside the %.2f m safety buffer (%d conflicting samples)",
		flightID, minDist, timeOfMin, buffer, samples)
}
