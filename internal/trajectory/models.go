package trajectory

import (
	"fmt"
	"math"
)

// Position is an (x, y, z) point in meters
type Position [3]float64

// NewPosition creates a position from its coordinates
func NewPosition(x, y, z float64) Position {
	return Position{x, y, z}
}

// X returns the x coordinate
func (p Position) X() float64 { return p[0] }

// Y returns the y coordinate
func (p Position) Y() float64 { return p[1] }

// Z returns the z coordinate
func (p Position) Z() float64 { return p[2] }

// Between interpolates linearly from p towards q, elapsed seconds into a
// segment lasting span seconds. Multiplying before dividing keeps exact
// results for evenly divisible inputs.
func (p Position) Between(q Position, elapsed, span float64) Position {
	return Position{
		p[0] + (q[0]-p[0])*elapsed/span,
		p[1] + (q[1]-p[1])*elapsed/span,
		p[2] + (q[2]-p[2])*elapsed/span,
	}
}

// Distance returns the Euclidean distance to q.
// With use3D false only x and y are considered.
func (p Position) Distance(q Position, use3D bool) float64 {
	dx := p[0] - q[0]
	dy := p[1] - q[1]
	if !use3D {
		return math.Hypot(dx, dy)
	}
	dz := p[2] - q[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// IsFinite reports whether every coordinate is a finite number
func (p Position) IsFinite() bool {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Waypoint is one control point of a flight path.
// Timestamps are float seconds; loaders use Unix seconds.
type Waypoint struct {
	ID       string
	Position Position
	Time     float64
	Timed    bool
}

// NewWaypoint creates a waypoint without a timestamp
func NewWaypoint(x, y, z float64) Waypoint {
	return Waypoint{Position: NewPosition(x, y, z)}
}

// NewTimedWaypoint creates a waypoint reached at time t
func NewTimedWaypoint(x, y, z, t float64) Waypoint {
	return Waypoint{Position: NewPosition(x, y, z), Time: t, Timed: true}
}

// WithID returns a copy of the waypoint carrying the given label
func (w Waypoint) WithID(id string) Waypoint {
	w.ID = id
	return w
}

// Window is a closed time interval in float seconds
type Window struct {
	Start float64
	End   float64
}

// NewWindow creates a validated window
func NewWindow(start, end float64) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate checks that the window is finite and has positive duration
func (w Window) Validate() error {
	if math.IsNaN(w.Start) || math.IsNaN(w.End) || math.IsInf(w.Start, 0) || math.IsInf(w.End, 0) {
		return fmt.Errorf("%w: window bounds must be finite", ErrValidation)
	}
	if w.End <= w.Start {
		return fmt.Errorf("%w: window start %.3f must be before end %.3f", ErrValidation, w.Start, w.End)
	}
	return nil
}

// Duration returns the window length in seconds
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Contains reports whether t lies inside the window, bounds included
func (w Window) Contains(t float64) bool {
	return t >= w.Start && t <= w.End
}
