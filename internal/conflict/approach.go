package conflict

import (
	"fmt"
	"math"

	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// Approach is the closest separation found between two paths
type Approach struct {
	Distance float64
	Time     float64
	A        trajectory.Position
	B        trajectory.Position
}

// ClosestApproach samples the temporal overlap of a and b, both ends
// included, and returns the smallest separation. ok is false when the
// paths never overlap in time. maxSamples bounds the grid as in Grid.
func ClosestApproach(a, b Path, step float64, use3D bool, maxSamples int) (approach Approach, ok bool, err error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return Approach{}, false, fmt.Errorf("%w: sampling step must be positive, got %v", trajectory.ErrValidation, step)
	}
	if a == nil || b == nil {
		return Approach{}, false, fmt.Errorf("%w: both paths are required", trajectory.ErrValidation)
	}

	aStart, aEnd, err := a.TimeRange()
	if err != nil {
		return Approach{}, false, err
	}
	bStart, bEnd, err := b.TimeRange()
	if err != nil {
		return Approach{}, false, err
	}

	start, end := max(aStart, bStart), min(aEnd, bEnd)
	if end < start {
		return Approach{}, false, nil
	}

	grid, err := Grid(start, end, step, true, maxSamples)
	if err != nil {
		return Approach{}, false, err
	}
	if len(grid) == 0 {
		// Overlap collapses to a single instant
		grid = []float64{start}
	}

	approach.Distance = math.Inf(1)
	for _, t := range grid {
		pa, err := a.PositionAt(t)
		if err != nil {
			return Approach{}, false, err
		}
		pb, err := b.PositionAt(t)
		if err != nil {
			return Approach{}, false, err
		}
		if d := pa.Distance(pb, use3D); d < approach.Distance {
			approach = Approach{Distance: d, Time: t, A: pa, B: pb}
		}
	}

	return approach, true, nil
}
