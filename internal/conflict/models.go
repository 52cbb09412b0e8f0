package conflict

import (
	"math"

	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// Status is the aggregate outcome of a detection run
type Status string

const (
	StatusClear    Status = "clear"
	StatusConflict Status = "conflict"
)

// Path is a time-queryable flight path.
// *trajectory.Trajectory satisfies it.
type Path interface {
	TimeRange() (float64, float64, error)
	PositionAt(t float64) (trajectory.Position, error)
}

// Flight pairs another drone's path with its identifier
type Flight struct {
	ID   string
	Path Path
}

// Params controls sampling and separation
type Params struct {
	SafetyBufferM float64 // minimum allowed separation, meters
	Step          float64 // sampling step, same unit as trajectory times
	Use3D         bool    // include z in the distance
	IncludeEnd    bool    // also sample the last instant of the overlap
	Workers       int     // pairs evaluated concurrently; <= 1 is sequential
	MaxSamples    int     // instants sampled per pair; 0 means trajectory.DefaultMaxSamples
}

// PositionPair holds both drones' positions at one instant
type PositionPair struct {
	Primary trajectory.Position
	Other   trajectory.Position
}

// Entry records one other flight's separation violations against the primary
type Entry struct {
	FlightID    string
	Times       []float64
	Positions   []PositionPair
	MinDistance float64
	TimeOfMin   float64
	Explanation string
}

// Result is the detector output
type Result struct {
	Status  Status
	Entries []Entry
}

// HasConflict reports whether any entry was produced
func (r Result) HasConflict() bool {
	return r.Status == StatusConflict
}

// RiskScore maps a separation to [0, 1]: 0 at or beyond the buffer,
// 1 at zero distance, linear in between.
func RiskScore(distanceM, bufferM float64) float64 {
	if bufferM <= 0 || math.IsNaN(distanceM) || distanceM >= bufferM {
		return 0
	}
	if distanceM <= 0 {
		return 1
	}
	return (bufferM - distanceM) / bufferM
}
