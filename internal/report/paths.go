package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// Paths is the plotting export of one analysis: every flight sampled on a
// common step, plus the conflict instants from the report
type Paths struct {
	MissionID string   `json:"mission_id"`
	StepS     float64  `json:"step_s"`
	Primary   Track    `json:"primary"`
	Flights   []Track  `json:"flights"`
	Conflicts []Marker `json:"conflicts"`
}

// Track is one sampled flight path
type Track struct {
	ID        string          `json:"id"`
	Start     string          `json:"start"`
	End       string          `json:"end"`
	Waypoints []TrackWaypoint `json:"waypoints"`
	Times     []string        `json:"times"`
	Positions [][3]float64    `json:"positions"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// TrackWaypoint is a path vertex with the time it is reached
type TrackWaypoint struct {
	ID       string     `json:"id,omitempty"`
	Time     string     `json:"time"`
	Position [3]float64 `json:"position"`
}

// Marker is a single conflict instant
type Marker struct {
	FlightID string     `json:"flight_id"`
	Time     string     `json:"time"`
	Primary  [3]float64 `json:"primary"`
	Sim      [3]float64 `json:"sim"`
}

// TrackSource describes one flight to export
type TrackSource struct {
	ID          string
	Start, End  float64
	Path        *trajectory.Trajectory
	WaypointIDs []string // parallel to the path vertices; may be nil
	Metadata    map[string]any
}

// Track samples src every step seconds. The sample budget is the same
// one the detector uses, so a step too small for the flight fails with
// trajectory.ErrValidation.
func (f *Formatter) Track(src TrackSource, step float64, maxSamples int) (Track, error) {
	times, positions, err := src.Path.Sample(step, maxSamples)
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", src.ID, err)
	}

	track := Track{
		ID:        src.ID,
		Start:     f.FormatTime(src.Start),
		End:       f.FormatTime(src.End),
		Times:     make([]string, len(times)),
		Positions: make([][3]float64, len(positions)),
		Metadata:  src.Metadata,
	}
	for i, ts := range times {
		track.Times[i] = f.FormatTime(ts)
		track.Positions[i] = f.roundPosition(positions[i])
	}

	vertexTimes := src.Path.Times()
	vertices := src.Path.Positions()
	track.Waypoints = make([]TrackWaypoint, len(vertices))
	for i, p := range vertices {
		wp := TrackWaypoint{Time: f.FormatTime(vertexTimes[i]), Position: f.roundPosition(p)}
		if i < len(src.WaypointIDs) {
			wp.ID = src.WaypointIDs[i]
		}
		track.Waypoints[i] = wp
	}

	return track, nil
}

// Markers flattens the report's conflict instants in entry order
func (r Report) Markers() []Marker {
	markers := []Marker{}
	for _, e := range r.Conflicts {
		for i, ts := range e.ConflictTimes {
			m := Marker{FlightID: e.FlightID, Time: ts}
			if i < len(e.ConflictPositions) {
				m.Primary = e.ConflictPositions[i].Primary
				m.Sim = e.ConflictPositions[i].Sim
			}
			markers = append(markers, m)
		}
	}
	return markers
}

// WriteJSON writes the export as indented JSON
func (p Paths) WriteJSON(w io.Writer) error {
	if p.Flights == nil {
		p.Flights = []Track{}
	}
	if p.Conflicts == nil {
		p.Conflicts = []Marker{}
	}
	return writeJSON(w, p)
}

// Save writes the export to path, creating parent directories
func (p Paths) Save(path string) error {
	return saveFile(path, p.WriteJSON)
}

// LoadPaths reads an export previously written by Save
func LoadPaths(path string) (Paths, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to read paths: %w", err)
	}

	var p Paths
	if err := json.Unmarshal(data, &p); err != nil {
		return Paths{}, fmt.Errorf("failed to parse paths: %w", err)
	}
	return p, nil
}
