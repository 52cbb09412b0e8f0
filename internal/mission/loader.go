package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yegors/uav-deconflict/internal/trajectory"
)

// MissionDocument is the JSON form of a primary mission
type MissionDocument struct {
	MissionID   string              `json:"mission_id"`
	TimeWindow  *WindowDocument     `json:"time_window"`
	Waypoints   []WaypointDocument  `json:"waypoints"`
	Constraints ConstraintsDocument `json:"constraints"`
}

// WindowDocument is a pair of ISO-8601 timestamps
type WindowDocument struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ConstraintsDocument holds the optional mission limits
type ConstraintsDocument struct {
	MaxSpeedMPS *float64 `json:"max_speed_mps,omitempty"`
}

// WaypointDocument is one waypoint; z defaults to 0 and t is optional for
// primary missions
type WaypointDocument struct {
	ID string   `json:"id,omitempty"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
	Z  *float64 `json:"z,omitempty"`
	T  string   `json:"t,omitempty"`
}

// FlightDocument is the JSON form of a simulated flight
type FlightDocument struct {
	FlightID  string             `json:"flight_id"`
	Waypoints []WaypointDocument `json:"waypoints"`
	Start     string             `json:"start,omitempty"`
	End       string             `json:"end,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// ToMission validates the document and converts it
func (d MissionDocument) ToMission() (*Mission, error) {
	if d.MissionID == "" {
		return nil, fmt.Errorf("%w: mission_id is required", trajectory.ErrValidation)
	}
	if d.TimeWindow == nil || d.TimeWindow.Start == "" || d.TimeWindow.End == "" {
		return nil, fmt.Errorf("%w: mission %s: time_window.start and time_window.end are required", trajectory.ErrValidation, d.MissionID)
	}

	start, err := ParseTime(d.TimeWindow.Start)
	if err != nil {
		return nil, fmt.Errorf("mission %s: time_window.start: %w", d.MissionID, err)
	}
	end, err := ParseTime(d.TimeWindow.End)
	if err != nil {
		return nil, fmt.Errorf("mission %s: time_window.end: %w", d.MissionID, err)
	}

	waypoints, err := convertWaypoints(d.Waypoints)
	if err != nil {
		return nil, fmt.Errorf("mission %s: %w", d.MissionID, err)
	}

	var constraints Constraints
	if d.Constraints.MaxSpeedMPS != nil {
		constraints.MaxSpeedMPS = *d.Constraints.MaxSpeedMPS
	}

	return NewMission(d.MissionID, trajectory.Window{Start: start, End: end}, waypoints, constraints)
}

// ToSimulatedFlight validates the document and converts it.
// The window is used only when both start and end are present.
func (d FlightDocument) ToSimulatedFlight() (*SimulatedFlight, error) {
	if d.FlightID == "" {
		return nil, fmt.Errorf("%w: flight_id is required", trajectory.ErrValidation)
	}

	waypoints, err := convertWaypoints(d.Waypoints)
	if err != nil {
		return nil, fmt.Errorf("flight %s: %w", d.FlightID, err)
	}

	var window *trajectory.Window
	if d.Start != "" && d.End != "" {
		start, err := ParseTime(d.Start)
		if err != nil {
			return nil, fmt.Errorf("flight %s: start: %w", d.FlightID, err)
		}
		end, err := ParseTime(d.End)
		if err != nil {
			return nil, fmt.Errorf("flight %s: end: %w", d.FlightID, err)
		}
		w, err := trajectory.NewWindow(start, end)
		if err != nil {
			return nil, fmt.Errorf("flight %s: %w", d.FlightID, err)
		}
		window = &w
	}

	return NewSimulatedFlight(d.FlightID, waypoints, window, d.Metadata)
}

func convertWaypoints(docs []WaypointDocument) ([]trajectory.Waypoint, error) {
	waypoints := make([]trajectory.Waypoint, 0, len(docs))
	for i, doc := range docs {
		if doc.X == nil || doc.Y == nil {
			return nil, fmt.Errorf("%w: waypoint %d is missing x or y", trajectory.ErrValidation, i)
		}
		var z float64
		if doc.Z != nil {
			z = *doc.Z
		}

		wp := trajectory.NewWaypoint(*doc.X, *doc.Y, z)
		if doc.T != "" {
			ts, err := ParseTime(doc.T)
			if err != nil {
				return nil, fmt.Errorf("waypoint %d: %w", i, err)
			}
			wp = trajectory.NewTimedWaypoint(*doc.X, *doc.Y, z, ts)
		}
		waypoints = append(waypoints, wp.WithID(doc.ID))
	}
	return waypoints, nil
}

// LoadPrimaryDocument reads a primary mission file without converting it
func LoadPrimaryDocument(path string) (MissionDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MissionDocument{}, fmt.Errorf("failed to read primary mission file: %w", err)
	}

	var doc MissionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return MissionDocument{}, fmt.Errorf("failed to parse mission JSON: %w", err)
	}
	return doc, nil
}

// LoadFlightDocuments loads the raw flight documents from a JSON file.
// Callers that skip invalid flights convert them one by one.
func LoadFlightDocuments(path string) ([]FlightDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulated flights file: %w", err)
	}

	var docs []FlightDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse simulated flights JSON: %w", err)
	}
	return docs, nil
}

// Accepted timestamp layouts. Zone-less forms are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp into Unix seconds
func ParseTime(value string) (float64, error) {
	s := strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return float64(t.Unix()) + float64(t.Nanosecond())/1e9, nil
		}
	}
	return 0, fmt.Errorf("%w: invalid ISO-8601 timestamp %q", trajectory.ErrValidation, value)
}
