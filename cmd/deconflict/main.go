package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/yegors/uav-deconflict/internal/analysis"
	"github.com/yegors/uav-deconflict/internal/api"
	"github.com/yegors/uav-deconflict/internal/config"
	"github.com/yegors/uav-deconflict/internal/mission"
	"github.com/yegors/uav-deconflict/internal/scenario"
	"github.com/yegors/uav-deconflict/pkg/logger"
)

// Exit codes
const (
	exitClear    = 0
	exitError    = 1
	exitConflict = 2
)

const usage = `Usage: deconflict <command> [flags]

Commands:
  check      check a primary mission against simulated flights
  serve      run the HTTP API
  scenarios  run every scenario in a directory

Run "deconflict <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitError
	}

	switch args[0] {
	case "check":
		return runCheck(ctx, args[1:], stdout, stderr)
	case "serve":
		return runServe(ctx, args[1:], stderr)
	case "scenarios":
		return runScenarios(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitClear
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitError
	}
}

// app bundles what every command needs
type app struct {
	config  *config.Config
	logger  *logger.Logger
	service *analysis.Service
}

func newApp(configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})
	if err != nil {
		return nil, err
	}

	fetcher := mission.NewFetcher(cfg.Fetcher.Timeout(), log)
	return &app{
		config:  cfg,
		logger:  log,
		service: analysis.NewService(fetcher, log),
	}, nil
}

func runCheck(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	primary := fs.String("primary", "", "primary mission JSON file")
	sim := fs.String("sim", "", "simulated flights JSON file or http(s) URL")
	buffer := fs.Float64("buffer", 50, "safety buffer in meters")
	dt := fs.Float64("dt", 1, "sampling step in seconds")
	use3D := fs.Bool("3d", false, "include altitude in the distance")
	includeEnd := fs.Bool("include-end", false, "also sample the last instant of each overlap")
	isolate := fs.Bool("isolate", false, "skip invalid simulated flights instead of failing")
	workers := fs.Int("workers", 0, "flights checked in parallel (0 or 1 is sequential)")
	out := fs.String("out", "", "write the JSON report to this path")
	pathsOut := fs.String("paths-out", "", "write the sampled flight paths and conflict instants to this path")
	configPath := fs.String("config", "", "TOML configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitClear
		}
		return exitError
	}
	if *primary == "" || *sim == "" {
		fmt.Fprintln(stderr, "check: --primary and --sim are required")
		fs.Usage()
		return exitError
	}

	a, err := newApp(*configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "check: %v\n", err)
		return exitError
	}
	defer a.logger.Sync()

	// Flags given on the command line win over the config file
	opts := analysis.OptionsFromConfig(a.config)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "buffer":
			opts.SafetyBufferM = *buffer
		case "dt":
			opts.Dt = *dt
		case "3d":
			opts.Use3D = *use3D
		case "include-end":
			opts.IncludeEnd = *includeEnd
		case "isolate":
			opts.IsolateFlights = *isolate
		case "workers":
			opts.Workers = *workers
		}
	})
	opts.IncludePaths = *pathsOut != ""

	result, err := a.service.AnalyzeFiles(ctx, *primary, *sim, opts)
	if err != nil {
		fmt.Fprintf(stderr, "check: %v\n", err)
		return exitError
	}

	printResult(stdout, result)

	if *out != "" {
		if err := result.Report.Save(*out); err != nil {
			fmt.Fprintf(stderr, "check: %v\n", err)
			return exitError
		}
	}
	if result.Paths != nil {
		if err := result.Paths.Save(*pathsOut); err != nil {
			fmt.Fprintf(stderr, "check: %v\n", err)
			return exitError
		}
	}

	if result.Report.HasConflict() {
		return exitConflict
	}
	return exitClear
}

func printResult(w io.Writer, result analysis.Result) {
	if !result.Report.HasConflict() {
		fmt.Fprintln(w, "CLEAR")
		if m := result.Margin; m != nil {
			fmt.Fprintf(w, "  closest approach: %s at %.3f m, %s\n", m.FlightID, m.DistanceM, m.Time)
		}
	} else {
		fmt.Fprintln(w, "CONFLICT DETECTED")
		fmt.Fprintf(w, "Conflicts found: %d\n", len(result.Report.Conflicts))
		for _, c := range result.Report.Conflicts {
			fmt.Fprintf(w, "  %s: min %.3f m at %s, %d conflicting samples\n",
				c.FlightID, c.MinDistanceM, c.TimeOfMin, len(c.ConflictTimes))
		}
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(w, "  skipped flight %d (%s): %s\n", s.Index, s.FlightID, s.Reason)
	}
}

func runServe(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "TOML configuration file")
	listen := fs.String("listen", "", "listen address, overrides server.listen_addr")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitClear
		}
		return exitError
	}

	a, err := newApp(*configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return exitError
	}
	defer a.logger.Sync()

	if *listen != "" {
		a.config.Server.ListenAddr = *listen
	}

	router := api.NewRouter(a.service, a.config, a.logger)
	server := api.NewServer(a.config.Server, router.Routes(), a.logger)
	if err := server.ListenAndServe(ctx); err != nil {
		a.logger.Error("Server stopped", logger.Error(err))
		return exitError
	}
	return exitClear
}

func runScenarios(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scenarios", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "scenarios", "directory of scenario JSON files")
	out := fs.String("out", "outputs", "directory for reports and summary.csv")
	withPaths := fs.Bool("paths", false, "also write each scenario's sampled flight paths")
	configPath := fs.String("config", "", "TOML configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitClear
		}
		return exitError
	}

	a, err := newApp(*configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "scenarios: %v\n", err)
		return exitError
	}
	defer a.logger.Sync()

	opts := analysis.OptionsFromConfig(a.config)
	opts.IncludePaths = *withPaths
	runner := scenario.NewRunner(a.service, opts, a.logger)
	summaries, err := runner.Run(ctx, *dir, *out)
	if err != nil {
		fmt.Fprintf(stderr, "scenarios: %v\n", err)
		return exitError
	}

	for _, s := range summaries {
		if s.Err != nil {
			fmt.Fprintf(stdout, "%-24s %s: %v\n", s.Scenario, s.Status, s.Err)
			continue
		}
		fmt.Fprintf(stdout, "%-24s %s (%d conflicts)\n", s.Scenario, s.Status, s.Conflicts)
	}

	if scenario.Failed(summaries) {
		return exitError
	}
	return exitClear
}
