package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "VERDICTD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (VERDICTD_STORE_BACKEND, VERDICTD_WORKERS_QUALITY_TIMEOUT, ...)
//  2. YAML config file (~/.config/verdictd/config.yaml)
//  3. Defaults
//
// A missing file is not an error. An existing file must have 0600 or 0400
// permissions, be at most 1MB and live under ~/.config/verdictd/ or
// /etc/verdictd/.
//
// Environment variables map onto keys by splitting the section off at the
// first underscore; for the workers section the stage name is split off too:
//
//	VERDICTD_STORE_BACKEND            -> store.backend
//	VERDICTD_SWEEP_BATCH_SIZE         -> sweep.batch_size
//	VERDICTD_WORKERS_QUALITY_TIMEOUT  -> workers.quality.timeout
//	VERDICTD_WORKERS_MAX_OUTPUT_BYTES -> workers.max_output_bytes
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// DefaultPath returns ~/.config/verdictd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "verdictd", "config.yaml"), nil
}

// envKey maps VERDICTD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	if section == "workers" {
		for _, stage := range Stages {
			if rest, found := strings.CutPrefix(field, stage+"_"); found {
				return section + "." + stage + "." + rest
			}
		}
	}
	return section + "." + field
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so they cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "verdictd"),
		"/etc/verdictd",
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/verdictd/ or /etc/verdictd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, ".config", "verdictd", "verdictd.db")
		}
	}

	budgets := map[string]time.Duration{
		StageQuality:       DefaultQualityTimeout,
		StageContradiction: DefaultContradictionTimeout,
		StageSynthesis:     DefaultSynthesisTimeout,
		StageExplanation:   DefaultExplanationTimeout,
	}
	for _, name := range Stages {
		sc := cfg.Workers.stagePtr(name)
		if sc.Command == "" {
			sc.Command = DefaultWorkerCommand
			if len(sc.Args) == 0 {
				sc.Args = []string{name}
			}
		}
		if sc.Timeout == 0 {
			sc.Timeout = budgets[name]
		}
	}
	if cfg.Workers.NoiseFilters == nil {
		cfg.Workers.NoiseFilters = []string{
			"UserWarning",
			"FutureWarning",
			"DeprecationWarning",
			"warnings.warn",
			"Some weights of",
			"You should probably TRAIN",
			"huggingface/tokenizers",
		}
	}
	if cfg.Workers.MaxOutputBytes == 0 {
		cfg.Workers.MaxOutputBytes = 4 * 1024 * 1024
	}
	if cfg.Workers.KillGrace == 0 {
		cfg.Workers.KillGrace = 2 * time.Second
	}

	if cfg.Resolver.LegacyPrefix == "" {
		cfg.Resolver.LegacyPrefix = "pair_"
	}
	if cfg.Resolver.LegacyScanLimit == 0 {
		cfg.Resolver.LegacyScanLimit = 100
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "verdictd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = 30 * time.Second
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = 10
	}
	if cfg.Sweep.Rate == 0 {
		cfg.Sweep.Rate = 1
	}
	if cfg.Sweep.Burst == 0 {
		cfg.Sweep.Burst = 1
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "verdictd.synthesis"
	}
}
