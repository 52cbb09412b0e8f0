package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Analysis AnalysisConfig `toml:"analysis"`
	Report   ReportConfig   `toml:"report"`
	Fetcher  FetcherConfig  `toml:"fetcher"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	ListenAddr             string   `toml:"listen_addr"`
	MaxConnections         int      `toml:"max_connections"`
	MaxBodyBytes           int64    `toml:"max_body_bytes"`
	ReadTimeoutSeconds     int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"`
}

// LoggingConfig configures pkg/logger
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AnalysisConfig holds the default detection parameters
type AnalysisConfig struct {
	SafetyBufferM  float64 `toml:"safety_buffer_m"`
	DtSeconds      float64 `toml:"dt_seconds"`
	Use3D          bool    `toml:"use_3d"`
	IncludeEnd     bool    `toml:"include_end"`
	Workers        int     `toml:"workers"`
	IsolateFlights bool    `toml:"isolate_flights"`
	// MaxSamples caps the instants sampled per flight pair; larger grids
	// fail validation
	MaxSamples     int     `toml:"max_samples"`
}

// ReportConfig controls report rendering
type ReportConfig struct {
	Precision  int    `toml:"precision"`
	TimeLayout string `toml:"time_layout"`
}

// FetcherConfig configures remote flight feeds
type FetcherConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:             ":8080",
			MaxConnections:         256,
			MaxBodyBytes:           8 << 20,
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    60,
			ShutdownTimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Analysis: AnalysisConfig{
			SafetyBufferM: 50,
			DtSeconds:     1,
			MaxSamples:    1_000_000,
		},
		Report: ReportConfig{
			Precision:  3,
			TimeLayout: "2006-01-02T15:04:05.000Z07:00",
		},
		Fetcher: FetcherConfig{
			TimeoutSeconds: 10,
		},
	}
}

// Load reads a TOML file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected settings from DECONFLICT_* variables
func (c *Config) applyEnv() error {
	if v := os.Getenv("DECONFLICT_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("DECONFLICT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DECONFLICT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DECONFLICT_SAFETY_BUFFER_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid DECONFLICT_SAFETY_BUFFER_M: %w", err)
		}
		c.Analysis.SafetyBufferM = f
	}
	if v := os.Getenv("DECONFLICT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DECONFLICT_WORKERS: %w", err)
		}
		c.Analysis.Workers = n
	}
	return nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 || c.Server.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	if !positiveFinite(c.Analysis.SafetyBufferM) {
		return fmt.Errorf("analysis.safety_buffer_m must be positive, got %v", c.Analysis.SafetyBufferM)
	}
	if !positiveFinite(c.Analysis.DtSeconds) {
		return fmt.Errorf("analysis.dt_seconds must be positive, got %v", c.Analysis.DtSeconds)
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("analysis.workers must not be negative")
	}
	if c.Analysis.MaxSamples < 2 {
		return fmt.Errorf("analysis.max_samples must be at least 2, got %d", c.Analysis.MaxSamples)
	}

	if c.Report.Precision < 0 || c.Report.Precision > 9 {
		return fmt.Errorf("report.precision must be between 0 and 9, got %d", c.Report.Precision)
	}
	if c.Report.TimeLayout == "" {
		return fmt.Errorf("report.time_layout is required")
	}

	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be positive")
	}
	return nil
}

// ReadTimeout returns the server read timeout
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server write timeout
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Timeout returns the HTTP client timeout
func (f FetcherConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
