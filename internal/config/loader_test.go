package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "verdictd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "verdictd.db"), cfg.Store.Path)

	assert.Equal(t, 60*time.Second, cfg.Workers.Quality.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Workers.Contradiction.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Workers.Synthesis.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Workers.Explanation.Timeout)
	assert.Equal(t, DefaultWorkerCommand, cfg.Workers.Quality.Command)
	assert.Equal(t, []string{"contradiction"}, cfg.Workers.Contradiction.Args)
	assert.NotEmpty(t, cfg.Workers.NoiseFilters)

	assert.Equal(t, "pair_", cfg.Resolver.LegacyPrefix)
	assert.Equal(t, 100, cfg.Resolver.LegacyScanLimit)
	assert.Equal(t, "verdictd.synthesis", cfg.Events.SubjectPrefix)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
store:
  backend: memory
workers:
  quality:
    command: /usr/local/bin/judge
    args: ["--light"]
    timeout: 5s
    env:
      MODEL: small
  kill_grace: 500ms
resolver:
  legacy_prefix: legacy-
server:
  http_port: 8088
sweep:
  enabled: true
  batch_size: 3
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "/usr/local/bin/judge", cfg.Workers.Quality.Command)
	assert.Equal(t, []string{"--light"}, cfg.Workers.Quality.Args)
	assert.Equal(t, 5*time.Second, cfg.Workers.Quality.Timeout)
	assert.Equal(t, map[string]string{"MODEL": "small"}, cfg.Workers.Quality.Env)
	assert.Equal(t, 500*time.Millisecond, cfg.Workers.KillGrace)
	assert.Equal(t, "legacy-", cfg.Resolver.LegacyPrefix)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, 3, cfg.Sweep.BatchSize)

	// Untouched stages keep their defaults.
	assert.Equal(t, 90*time.Second, cfg.Workers.Contradiction.Timeout)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "store:\n  backend: sqlite\n", 0600)

	t.Setenv("VERDICTD_STORE_BACKEND", "memory")
	t.Setenv("VERDICTD_WORKERS_EXPLANATION_TIMEOUT", "3s")
	t.Setenv("VERDICTD_SWEEP_BATCH_SIZE", "7")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3*time.Second, cfg.Workers.Explanation.Timeout)
	assert.Equal(t, 7, cfg.Sweep.BatchSize)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "store:\n  backend: memory\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "store:\n  backend: postgres\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store backend")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"VERDICTD_STORE_BACKEND":              "store.backend",
		"VERDICTD_STORE_FALLBACK_TO_MEMORY":   "store.fallback_to_memory",
		"VERDICTD_WORKERS_QUALITY_TIMEOUT":    "workers.quality.timeout",
		"VERDICTD_WORKERS_CONTRADICTION_ARGS": "workers.contradiction.args",
		"VERDICTD_WORKERS_MAX_OUTPUT_BYTES":   "workers.max_output_bytes",
		"VERDICTD_RESOLVER_LEGACY_SCAN_LIMIT": "resolver.legacy_scan_limit",
		"VERDICTD_EVENTS_NATS_URL":            "events.nats_url",
		"VERDICTD_DEBUG":                      "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestConfig_ValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = ""
	cfg.Workers.Synthesis.Timeout = -time.Second
	cfg.Events.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path required")
	assert.Contains(t, err.Error(), "workers.synthesis.timeout")
	assert.Contains(t, err.Error(), "events.nats_url")
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("s3cr3t")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "s3cr3t", s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(b))
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("15s")))
	assert.Equal(t, 15*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
