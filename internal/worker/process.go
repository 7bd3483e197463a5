package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"go.uber.org/zap"
)

const (
	defaultKillGrace = 2 * time.Second
	stderrLogLimit   = 2048
)

// ProcessConfig configures a ProcessWorker.
type ProcessConfig struct {
	// Stage names the worker in logs, errors and metrics.
	Stage   string
	Command string
	Args    []string
	// Env is overlaid on a copy of the parent environment.
	Env map[string]string
	// Timeout applies when Invoke is called with a non-positive timeout.
	Timeout        time.Duration
	MaxOutputBytes int
	KillGrace      time.Duration
	NoiseFilters   []string
}

// FromStageConfig builds a ProcessConfig for one stage from the loaded
// workers section.
func FromStageConfig(stage string, workers config.WorkersConfig) (ProcessConfig, error) {
	sc, ok := workers.Stage(stage)
	if !ok {
		return ProcessConfig{}, fmt.Errorf("unknown stage %q", stage)
	}
	return ProcessConfig{
		Stage:          stage,
		Command:        sc.Command,
		Args:           sc.Args,
		Env:            sc.Env,
		Timeout:        sc.Timeout,
		MaxOutputBytes: workers.MaxOutputBytes,
		KillGrace:      workers.KillGrace,
		NoiseFilters:   workers.NoiseFilters,
	}, nil
}

// ProcessWorker starts one OS process per invocation.
type ProcessWorker struct {
	cfg     ProcessConfig
	noise   *NoiseFilter
	logger  *zap.Logger
	metrics *Metrics
}

var _ Worker = (*ProcessWorker)(nil)

// NewProcessWorker creates a worker for cfg. A nil logger disables stderr
// logging.
func NewProcessWorker(cfg ProcessConfig, logger *zap.Logger) (*ProcessWorker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%s worker: command is required", cfg.Stage)
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessWorker{
		cfg:     cfg,
		noise:   NewNoiseFilter(cfg.NoiseFilters),
		logger:  logger.With(zap.String("stage", cfg.Stage)),
		metrics: NewMetrics(),
	}, nil
}

// Stage returns the stage name this worker serves.
func (w *ProcessWorker) Stage() string { return w.cfg.Stage }

// Invoke runs the worker once. Cancellation of ctx is ignored: only the
// timeout stops a running worker, so a caller going away cannot leave a
// half-finished stage behind.
func (w *ProcessWorker) Invoke(ctx context.Context, payload any, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = w.cfg.Timeout
	}
	start := time.Now()
	res := w.run(context.WithoutCancel(ctx), payload, timeout)
	res.Duration = time.Since(start)
	w.metrics.observe(w.cfg.Stage, res)
	return res
}

func (w *ProcessWorker) run(ctx context.Context, payload any, timeout time.Duration) Result {
	stage := w.cfg.Stage

	body, err := json.Marshal(payload)
	if err != nil {
		return Failed(StageSpawnError(stage, fmt.Errorf("encoding request: %w", err)))
	}

	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, w.cfg.Command, w.cfg.Args...)
	cmd.Env = w.environ()
	cmd.Stdin = bytes.NewReader(body)
	stdout := &limitedBuffer{max: w.cfg.MaxOutputBytes}
	stderr := &limitedBuffer{max: w.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = w.cfg.KillGrace

	w.logger.Log(logging.TraceLevel, "worker request", zap.ByteString("body", body))

	if err := cmd.Start(); err != nil {
		return Failed(StageSpawnError(stage, err))
	}
	waitErr := cmd.Wait()

	w.logStderr(stderr.String())
	if stdout.truncated || stderr.truncated {
		w.metrics.TruncatedTotal.WithLabelValues(stage).Inc()
		w.logger.Warn("worker output truncated", zap.Int("max_bytes", w.cfg.MaxOutputBytes))
	}

	if waitErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failed(StageTimeoutError(stage, timeout))
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return Failed(StageExitError(stage, exitErr.ExitCode(), tail(stderr.String(), stderrLogLimit)))
		}
		// Exited cleanly but held stdout open past the kill grace.
		if !errors.Is(waitErr, exec.ErrWaitDelay) {
			return Failed(StageSpawnError(stage, waitErr))
		}
	}

	w.logger.Log(logging.TraceLevel, "worker response", zap.ByteString("body", stdout.Bytes()))

	doc, err := parseOutput(stdout.Bytes())
	if err != nil {
		return Failed(StageParseError(stage, err))
	}
	if err := checkEnvelope(doc); err != nil {
		return Failed(StageParseError(stage, err))
	}
	return Result{Success: true, Payload: doc}
}

// environ copies the parent environment and overlays stage variables in a
// stable order.
func (w *ProcessWorker) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(w.cfg.Env)+1)
	for k := range w.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env = append(env, "VERDICTD_STAGE="+w.cfg.Stage)
	for _, k := range keys {
		env = append(env, k+"="+w.cfg.Env[k])
	}
	return env
}

func (w *ProcessWorker) logStderr(stderr string) {
	if stderr == "" || !w.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	for _, line := range w.noise.Lines(stderr) {
		w.logger.Debug("worker stderr", zap.String("line", line))
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
