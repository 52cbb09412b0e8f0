package scenario

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/yegors/uav-deconflict/internal/analysis"
	"github.com/yegors/uav-deconflict/internal/mission"
	"github.com/yegors/uav-deconflict/pkg/logger"
)

// Scenario is one batch entry read from a JSON file
type Scenario struct {
	Name                 string   `json:"-"`
	PrimaryMissionFile   string   `json:"primary_mission_file"`
	SimulatedFlightsFile string   `json:"simulated_flights_file"`
	Buffer               *float64 `json:"buffer,omitempty"`
	Dt                   *float64 `json:"dt,omitempty"`
	Use3D                *bool    `json:"use_3d,omitempty"`
}

// Summary is one row of the batch summary
type Summary struct {
	Scenario     string
	Status       string
	Conflicts    int
	MinDistanceM *float64
	TimeOfMin    string
	Err          error
}

// StatusError marks scenarios that could not be analyzed
const StatusError = "error"

// Runner analyzes every scenario in a directory
type Runner struct {
	service *analysis.Service
	options analysis.Options
	logger  *logger.Logger
}

// NewRunner creates a runner; options supply values a scenario omits
func NewRunner(service *analysis.Service, options analysis.Options, logger *logger.Logger) *Runner {
	return &Runner{
		service: service,
		options: options,
		logger:  logger.Named("scenarios"),
	}
}

// Load reads a scenario file. Relative input paths are resolved against
// the scenario's directory when the file exists there.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario: %w", err)
	}

	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if s.PrimaryMissionFile == "" || s.SimulatedFlightsFile == "" {
		return Scenario{}, fmt.Errorf("scenario %s: primary_mission_file and simulated_flights_file are required", path)
	}

	dir := filepath.Dir(path)
	s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s.PrimaryMissionFile = resolve(dir, s.PrimaryMissionFile)
	s.SimulatedFlightsFile = resolve(dir, s.SimulatedFlightsFile)
	return s, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) || mission.IsRemote(p) {
		return p
	}
	candidate := filepath.Join(dir, p)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return p
}

// Run analyzes every *.json scenario in dir in name order, writing
// <outDir>/<name>/report.json and <outDir>/summary.csv, plus
// <outDir>/<name>/paths.json when the options include paths. A failing
// scenario is recorded in the summary and does not stop the batch.
func (r *Runner) Run(ctx context.Context, dir, outDir string) ([]Summary, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	sort.Strings(paths)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	summaries := make([]Summary, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summaries = append(summaries, r.runOne(ctx, path, outDir))
	}

	if err := WriteSummary(filepath.Join(outDir, "summary.csv"), summaries); err != nil {
		return summaries, err
	}

	r.logger.Info("Scenario batch finished",
		logger.Int("scenarios", len(summaries)),
		logger.String("out", outDir),
	)
	return summaries, nil
}

func (r *Runner) runOne(ctx context.Context, path, outDir string) Summary {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	failed := func(err error) Summary {
		r.logger.WithError(err).Error("Scenario failed", logger.String("scenario", name))
		return Summary{Scenario: name, Status: StatusError, Err: err}
	}

	s, err := Load(path)
	if err != nil {
		return failed(err)
	}

	opts := r.options
	if s.Buffer != nil {
		opts.SafetyBufferM = *s.Buffer
	}
	if s.Dt != nil {
		opts.Dt = *s.Dt
	}
	if s.Use3D != nil {
		opts.Use3D = *s.Use3D
	}

	result, err := r.service.AnalyzeFiles(ctx, s.PrimaryMissionFile, s.SimulatedFlightsFile, opts)
	if err != nil {
		return failed(err)
	}
	if err := result.Report.Save(filepath.Join(outDir, s.Name, "report.json")); err != nil {
		return failed(err)
	}
	if result.Paths != nil {
		if err := result.Paths.Save(filepath.Join(outDir, s.Name, "paths.json")); err != nil {
			return failed(err)
		}
	}

	summary := Summary{
		Scenario:  s.Name,
		Status:    result.Report.Status,
		Conflicts: len(result.Report.Conflicts),
	}
	if closest, ok := result.Report.Closest(); ok {
		d := closest.MinDistanceM
		summary.MinDistanceM = &d
		summary.TimeOfMin = closest.TimeOfMin
	}

	r.logger.Debug("Scenario analyzed",
		logger.String("scenario", s.Name),
		logger.String("status", summary.Status),
		logger.Int("conflicts", summary.Conflicts),
	)
	return summary
}

// WriteSummary writes the summary rows as CSV
func WriteSummary(path string, summaries []Summary) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"scenario", "status", "conflicts", "min_distance_m", "time_of_min"}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	for _, s := range summaries {
		minDistance := ""
		if s.MinDistanceM != nil {
			minDistance = strconv.FormatFloat(*s.MinDistanceM, 'f', -1, 64)
		}
		row := []string{s.Scenario, s.Status, strconv.Itoa(s.Conflicts), minDistance, s.TimeOfMin}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return file.Close()
}

// Failed reports whether any scenario ended in error
func Failed(summaries []Summary) bool {
	for _, s := range summaries {
		if s.Err != nil {
			return true
		}
	}
	return false
}
