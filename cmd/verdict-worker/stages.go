package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/heuristics"
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxRequestBytes caps stdin.
const maxRequestBytes = 8 << 20

// stageFailure is returned after the failure body was already written.
type stageFailure struct{ err error }

func (e *stageFailure) Error() string { return e.err.Error() }
func (e *stageFailure) Unwrap() error { return e.err }

type failureBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeFailure(w io.Writer, err error) {
	_ = json.NewEncoder(w).Encode(failureBody{Success: false, Error: err.Error()})
}

// stageCmd builds a subcommand that decodes Req from stdin and encodes
// whatever handle returns on stdout.
func stageCmd[Req any](stage, short string, handle func(context.Context, Req) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   stage,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = logging.WithStage(ctx, stage)
			if env := os.Getenv("VERDICTD_STAGE"); env != "" && env != stage {
				logger.Warn(ctx, "stage mismatch", zap.String("env_stage", env))
			}

			start := time.Now()
			out, err := run(ctx, cmd.InOrStdin(), handle)
			if err != nil {
				logger.Error(ctx, "stage failed", zap.Error(err))
				writeFailure(cmd.OutOrStdout(), err)
				return &stageFailure{err: err}
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(out); err != nil {
				return &stageFailure{err: fmt.Errorf("write response: %w", err)}
			}
			logger.Debug(ctx, "stage completed", zap.Duration("duration", time.Since(start)))
			return nil
		},
	}
}

func run[Req any](ctx context.Context, r io.Reader, handle func(context.Context, Req) (any, error)) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxRequestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	if len(body) > maxRequestBytes {
		return nil, fmt.Errorf("request exceeds %d bytes", maxRequestBytes)
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, errors.New("empty request")
	}
	logger.Trace(ctx, "request", zap.ByteString("body", body))

	var req Req
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return handle(ctx, req)
}

type qualityBody struct {
	Success          bool                    `json:"success"`
	EvidenceJudgment stages.EvidenceJudgment `json:"evidence_judgment"`
}

func qualityCmd() *cobra.Command {
	return stageCmd(config.StageQuality, "Judge evidence quality",
		func(_ context.Context, req stages.QualityRequest) (any, error) {
			return qualityBody{Success: true, EvidenceJudgment: heuristics.JudgeEvidence(req.EvidenceChunks)}, nil
		})
}

type contradictionBody struct {
	Success               bool                         `json:"success"`
	ContradictionAnalysis stages.ContradictionAnalysis `json:"contradiction_analysis"`
}

func contradictionCmd() *cobra.Command {
	return stageCmd(config.StageContradiction, "Measure contradiction between the arguments",
		func(_ context.Context, req stages.ContradictionRequest) (any, error) {
			return contradictionBody{
				Success:               true,
				ContradictionAnalysis: heuristics.DetectContradictions(req.SupportText, req.OpposeText),
			}, nil
		})
}

type synthesisBody struct {
	Success bool `json:"success"`
	stages.SynthesisResponse
}

func synthesisCmd() *cobra.Command {
	return stageCmd(config.StageSynthesis, "Decide the verdict",
		func(ctx context.Context, req stages.SynthesisRequest) (any, error) {
			if strings.TrimSpace(req.Support.Reasoning) == "" && strings.TrimSpace(req.Oppose.Reasoning) == "" {
				return nil, errors.New("both arguments are empty")
			}
			resp := heuristics.Synthesize(req)
			logger.Info(logging.WithPairToken(ctx, req.PairToken), "verdict decided",
				zap.String("verdict", resp.FinalVerdict),
				zap.Float64("confidence", resp.Confidence))
			return synthesisBody{Success: true, SynthesisResponse: resp}, nil
		})
}

type explanationBody struct {
	Success     bool   `json:"success"`
	Explanation string `json:"explanation"`
	ModelUsed   string `json:"model_used"`
	UsedAI      bool   `json:"used_ai"`
}

func explanationCmd() *cobra.Command {
	return stageCmd(config.StageExplanation, "Explain a synthesis result",
		func(_ context.Context, req stages.ExplanationRequest) (any, error) {
			return explanationBody{
				Success:     true,
				Explanation: heuristics.Explain(req),
				ModelUsed:   heuristics.Model,
			}, nil
		})
}
