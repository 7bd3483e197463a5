// Package stages wraps the four analysis workers. Every wrapper returns a
// usable payload: the worker's own output when the invocation succeeded, or
// the stage's fixed fallback when it did not.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/verdictd/internal/stages"

// Input truncation limits, in characters.
const (
	ContradictionTextLimit = 500
	ExplanationTextLimit   = 300
)

// Timeouts are the per-stage budgets.
type Timeouts struct {
	Quality       time.Duration
	Contradiction time.Duration
	Synthesis     time.Duration
	Explanation   time.Duration
}

// DefaultTimeouts returns the standard stage budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Quality:       config.DefaultQualityTimeout,
		Contradiction: config.DefaultContradictionTimeout,
		Synthesis:     config.DefaultSynthesisTimeout,
		Explanation:   config.DefaultExplanationTimeout,
	}
}

// Workers holds one worker per stage.
type Workers struct {
	Quality       worker.Worker
	Contradiction worker.Worker
	Synthesis     worker.Worker
	Explanation   worker.Worker
}

// Outcome records how one stage invocation went.
type Outcome struct {
	Stage       string
	Duration    time.Duration
	Fallback    bool
	FailureKind worker.FailureKind
	Cause       string
	Model       string
}

// Metrics converts the outcome for storage in a result.
func (o Outcome) Metrics() store.StageMetrics {
	return store.StageMetrics{
		DurationMs:  o.Duration.Milliseconds(),
		Success:     !o.Fallback,
		FailureKind: string(o.FailureKind),
		Fallback:    o.Fallback,
	}
}

// Runner invokes the stage workers.
type Runner struct {
	workers  Workers
	timeouts Timeouts
	logger   *logging.Logger
}

// NewRunner creates a Runner. Zero timeouts take the defaults.
func NewRunner(workers Workers, timeouts Timeouts, logger *logging.Logger) (*Runner, error) {
	if workers.Quality == nil || workers.Contradiction == nil ||
		workers.Synthesis == nil || workers.Explanation == nil {
		return nil, errors.New("stages: a worker is required for every stage")
	}
	def := DefaultTimeouts()
	if timeouts.Quality <= 0 {
		timeouts.Quality = def.Quality
	}
	if timeouts.Contradiction <= 0 {
		timeouts.Contradiction = def.Contradiction
	}
	if timeouts.Synthesis <= 0 {
		timeouts.Synthesis = def.Synthesis
	}
	if timeouts.Explanation <= 0 {
		timeouts.Explanation = def.Explanation
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{workers: workers, timeouts: timeouts, logger: logger}, nil
}

// NewProcessRunner builds process workers for every stage from configuration.
func NewProcessRunner(cfg config.WorkersConfig, logger *logging.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var ws [4]worker.Worker
	for i, stage := range config.Stages {
		pc, err := worker.FromStageConfig(stage, cfg)
		if err != nil {
			return nil, err
		}
		w, err := worker.NewProcessWorker(pc, logger.Underlying())
		if err != nil {
			return nil, err
		}
		ws[i] = w
	}
	return NewRunner(Workers{
		Quality:       ws[0],
		Contradiction: ws[1],
		Synthesis:     ws[2],
		Explanation:   ws[3],
	}, Timeouts{
		Quality:       cfg.Quality.Timeout,
		Contradiction: cfg.Contradiction.Timeout,
		Synthesis:     cfg.Synthesis.Timeout,
		Explanation:   cfg.Explanation.Timeout,
	}, logger)
}

// Quality judges the evidence set.
func (r *Runner) Quality(ctx context.Context, chunks []store.EvidenceChunk) (EvidenceJudgment, Outcome) {
	if chunks == nil {
		chunks = []store.EvidenceChunk{}
	}
	req := QualityRequest{EvidenceChunks: chunks, UseLightModel: true}

	var resp qualityResponse
	out := r.invoke(ctx, config.StageQuality, r.workers.Quality, r.timeouts.Quality, req, &resp, func() error {
		if resp.EvidenceJudgment == nil {
			return errors.New("response has no evidence_judgment")
		}
		return nil
	})
	if out.Fallback {
		return FallbackJudgment(), out
	}
	out.Model = resp.EvidenceJudgment.ModelUsed
	return *resp.EvidenceJudgment, out
}

// Contradiction measures how far the two arguments contradict each other.
// Each text is truncated before it is sent.
func (r *Runner) Contradiction(ctx context.Context, supportText, opposeText string) (ContradictionAnalysis, Outcome) {
	req := ContradictionRequest{
		SupportText:   Truncate(supportText, ContradictionTextLimit),
		OpposeText:    Truncate(opposeText, ContradictionTextLimit),
		UseLightModel: true,
	}

	var resp contradictionResponse
	out := r.invoke(ctx, config.StageContradiction, r.workers.Contradiction, r.timeouts.Contradiction, req, &resp, func() error {
		if resp.ContradictionAnalysis == nil {
			return errors.New("response has no contradiction_analysis")
		}
		return nil
	})
	if out.Fallback {
		return FallbackContradiction(), out
	}
	a := *resp.ContradictionAnalysis
	if a.StrongContradictions == nil {
		a.StrongContradictions = []StrongContradiction{}
	}
	out.Model = a.ModelUsed
	return a, out
}

// Synthesis produces the verdict.
func (r *Runner) Synthesis(ctx context.Context, req SynthesisRequest) (SynthesisResponse, Outcome) {
	var resp SynthesisResponse
	out := r.invoke(ctx, config.StageSynthesis, r.workers.Synthesis, r.timeouts.Synthesis, req, &resp, func() error {
		if resp.FinalVerdict == "" {
			return errors.New("response has no final_verdict")
		}
		return nil
	})
	if out.Fallback {
		return FallbackSynthesis(out.Cause), out
	}
	out.Model = resp.ModelUsed
	return resp, out
}

// Explanation rewrites the synthesis reasoning for people. The returned
// text is empty when the stage fell back; callers keep the synthesis
// reasoning in that case.
func (r *Runner) Explanation(ctx context.Context, result SynthesisResponse, supportText, opposeText string) (string, Outcome) {
	req := ExplanationRequest{
		MLResult:       result,
		SupportSummary: Truncate(supportText, ExplanationTextLimit),
		OpposeSummary:  Truncate(opposeText, ExplanationTextLimit),
		UseFreeModel:   true,
	}

	var resp explanationResponse
	out := r.invoke(ctx, config.StageExplanation, r.workers.Explanation, r.timeouts.Explanation, req, &resp, func() error {
		if resp.Explanation == "" {
			return errors.New("response has no explanation")
		}
		return nil
	})
	if out.Fallback {
		return "", out
	}
	out.Model = resp.ModelUsed
	return resp.Explanation, out
}

// invoke runs one stage and decodes its payload into dst. Any failure,
// including a payload that decodes but fails check, marks the outcome as a
// fallback.
func (r *Runner) invoke(ctx context.Context, stage string, w worker.Worker, timeout time.Duration, req, dst any, check func() error) Outcome {
	ctx = logging.WithStage(ctx, stage)
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "stage."+stage)
	defer span.End()

	res := w.Invoke(ctx, req, timeout)
	out := Outcome{Stage: stage, Duration: res.Duration}

	var stageErr *worker.StageError
	switch {
	case !res.Success:
		stageErr = res.Err
		if stageErr == nil {
			stageErr = worker.StageParseError(stage, errors.New("worker returned no result"))
		}
	default:
		if err := res.Decode(dst); err != nil {
			stageErr = worker.StageParseError(stage, fmt.Errorf("decoding response: %w", err))
		} else if err := check(); err != nil {
			stageErr = worker.StageParseError(stage, err)
		}
	}

	span.SetAttributes(
		attribute.String("stage", stage),
		attribute.Int64("duration_ms", out.Duration.Milliseconds()),
	)

	if stageErr == nil {
		span.SetAttributes(attribute.Bool("fallback", false))
		r.logger.Debug(ctx, "stage completed", zap.Duration("duration", out.Duration))
		return out
	}

	out.Fallback = true
	out.FailureKind = stageErr.Kind
	out.Cause = stageErr.Error()
	span.SetAttributes(
		attribute.Bool("fallback", true),
		attribute.String("failure_kind", string(stageErr.Kind)),
	)
	span.SetStatus(codes.Error, out.Cause)
	r.logger.Warn(ctx, "stage failed, using fallback",
		zap.String("failure_kind", string(stageErr.Kind)),
		zap.Int("exit_code", stageErr.ExitCode),
		zap.Duration("duration", out.Duration),
		zap.Error(stageErr),
	)
	return out
}

// Truncate returns at most n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
