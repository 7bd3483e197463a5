// Package config provides configuration loading for verdictd.
//
// Configuration is read from a YAML file and overridden by VERDICTD_*
// environment variables. Defaults reproduce the stage budgets of the
// synthesis pipeline and point every stage at the bundled verdict-worker.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Stage names used as keys in WorkersConfig and in metrics.
const (
	StageQuality       = "quality"
	StageContradiction = "contradiction"
	StageSynthesis     = "synthesis"
	StageExplanation   = "explanation"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{StageQuality, StageContradiction, StageSynthesis, StageExplanation}

// Config holds the complete verdictd configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Workers   WorkersConfig   `koanf:"workers"`
	Resolver  ResolverConfig  `koanf:"resolver"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Sweep     SweepConfig     `koanf:"sweep"`
	Events    EventsConfig    `koanf:"events"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string `koanf:"backend"`

	// Path is the SQLite database file.
	Path string `koanf:"path"`

	// FallbackToMemory uses the in-memory store when the durable store
	// cannot be opened.
	FallbackToMemory bool `koanf:"fallback_to_memory"`
}

// StageWorkerConfig describes how one stage's worker process is started.
type StageWorkerConfig struct {
	Command string            `koanf:"command"`
	Args    []string          `koanf:"args"`
	Timeout time.Duration     `koanf:"timeout"`
	Env     map[string]string `koanf:"env"`
}

// WorkersConfig holds the per-stage worker commands and shared limits.
type WorkersConfig struct {
	Quality       StageWorkerConfig `koanf:"quality"`
	Contradiction StageWorkerConfig `koanf:"contradiction"`
	Synthesis     StageWorkerConfig `koanf:"synthesis"`
	Explanation   StageWorkerConfig `koanf:"explanation"`

	// NoiseFilters are stderr substrings dropped before logging.
	NoiseFilters []string `koanf:"noise_filters"`

	// MaxOutputBytes caps captured stdout and stderr per invocation.
	MaxOutputBytes int `koanf:"max_output_bytes"`

	// KillGrace is how long a worker may run after SIGTERM before it is killed.
	KillGrace time.Duration `koanf:"kill_grace"`
}

// Stage returns the worker config for the named stage.
func (w *WorkersConfig) Stage(name string) (StageWorkerConfig, bool) {
	switch name {
	case StageQuality:
		return w.Quality, true
	case StageContradiction:
		return w.Contradiction, true
	case StageSynthesis:
		return w.Synthesis, true
	case StageExplanation:
		return w.Explanation, true
	}
	return StageWorkerConfig{}, false
}

func (w *WorkersConfig) stagePtr(name string) *StageWorkerConfig {
	switch name {
	case StageQuality:
		return &w.Quality
	case StageContradiction:
		return &w.Contradiction
	case StageSynthesis:
		return &w.Synthesis
	case StageExplanation:
		return &w.Explanation
	}
	return nil
}

// ResolverConfig tunes pair-token resolution.
type ResolverConfig struct {
	LegacyPrefix    string `koanf:"legacy_prefix"`
	LegacyScanLimit int    `koanf:"legacy_scan_limit"`
}

// LoggingConfig is mapped onto logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is mapped onto telemetry.Config at startup.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	SamplingRate   float64 `koanf:"sampling_rate"`
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SweepConfig controls the pending-pair sweeper of `verdictd serve`.
type SweepConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
	Rate      float64       `koanf:"rate"`
	Burst     int           `koanf:"burst"`
}

// EventsConfig controls completion events on NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	Token         Secret `koanf:"token"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Default stage budgets.
const (
	DefaultQualityTimeout       = 60 * time.Second
	DefaultContradictionTimeout = 90 * time.Second
	DefaultSynthesisTimeout     = 60 * time.Second
	DefaultExplanationTimeout   = 15 * time.Second
)

// DefaultWorkerCommand is the bundled heuristic worker binary.
const DefaultWorkerCommand = "verdict-worker"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path required for sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported store backend: %q (supported: sqlite, memory)", c.Store.Backend))
	}

	for _, name := range Stages {
		sc, _ := c.Workers.Stage(name)
		if sc.Command == "" {
			errs = append(errs, fmt.Errorf("workers.%s.command required", name))
		}
		if sc.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("workers.%s.timeout must be positive", name))
		}
	}
	if c.Workers.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("workers.max_output_bytes must be positive"))
	}

	if c.Resolver.LegacyPrefix == "" {
		errs = append(errs, errors.New("resolver.legacy_prefix cannot be empty"))
	}
	if c.Resolver.LegacyScanLimit <= 0 {
		errs = append(errs, errors.New("resolver.legacy_scan_limit must be positive"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}

	if c.Sweep.Enabled {
		if c.Sweep.Interval <= 0 {
			errs = append(errs, errors.New("sweep.interval must be positive"))
		}
		if c.Sweep.BatchSize <= 0 {
			errs = append(errs, errors.New("sweep.batch_size must be positive"))
		}
		if c.Sweep.Rate <= 0 {
			errs = append(errs, errors.New("sweep.rate must be positive"))
		}
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		errs = append(errs, errors.New("events.nats_url required when events are enabled"))
	}

	return errors.Join(errs...)
}
