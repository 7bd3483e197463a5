package verdict

import (
	"math"
	"testing"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/resolver"
	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAggregator() *Aggregator {
	return &Aggregator{
		now:   func() time.Time { return fixedNow },
		newID: func() string { return "result-1" },
	}
}

func testPair() resolver.Pair {
	return resolver.Pair{
		Support: store.ArgumentResponse{ID: "r1", SessionID: "s1", EvidenceID: "e1", AgentType: store.AgentSupport, ReasoningText: "for", Citations: []string{"c1"}},
		Oppose:  store.ArgumentResponse{ID: "r2", SessionID: "s1", EvidenceID: "e1", AgentType: store.AgentOppose, ReasoningText: "against"},
	}
}

func ok(stage, model string, d time.Duration) stages.Outcome {
	return stages.Outcome{Stage: stage, Duration: d, Model: model}
}

func fellBack(stage string, kind worker.FailureKind, cause string) stages.Outcome {
	return stages.Outcome{Stage: stage, Fallback: true, FailureKind: kind, Cause: cause}
}

func TestSynthesisRequest(t *testing.T) {
	judgment := stages.EvidenceJudgment{Winner: "support", Confidence: 0.78}
	contradiction := stages.ContradictionAnalysis{ContradictionScore: 0.32}

	req := testAggregator().SynthesisRequest("r1_r2", testPair(), nil, judgment, contradiction)

	assert.Equal(t, "r1_r2", req.PairToken)
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "e1", req.EvidenceID)
	assert.Equal(t, "for", req.Support.Reasoning)
	assert.Equal(t, "oppose", req.Oppose.AgentType)
	assert.Equal(t, []string{}, req.Oppose.Citations)
	assert.Equal(t, []store.EvidenceChunk{}, req.Evidence)
	assert.Equal(t, judgment, req.EvidenceJudgment)
	assert.Equal(t, contradiction, req.ContradictionAnalysis)
}

func TestAssemble_AllStagesSucceed(t *testing.T) {
	run := Run{
		Token:                "r1_r2",
		Pair:                 testPair(),
		Started:              fixedNow.Add(-1500 * time.Millisecond),
		Judgment:             stages.EvidenceJudgment{Confidence: 0.78},
		QualityOutcome:       ok("quality", "distilbert-base-uncased", 100*time.Millisecond),
		Contradiction:        stages.ContradictionAnalysis{ContradictionScore: 0.32},
		ContradictionOutcome: ok("contradiction", "distilroberta-base", 200*time.Millisecond),
		Synthesis: stages.SynthesisResponse{
			FinalVerdict: "support",
			Confidence:   0.89,
			Reasoning:    "synth reasoning",
			Scores: stages.SynthesisScores{
				Support:  store.AgentScores{Strength: 0.8, Coverage: 0.7, Consistency: 0.9},
				Oppose:   store.AgentScores{Strength: 0.4, Coverage: 0.3, Consistency: 0.6},
				Evidence: stages.EvidenceScores{QualityScore: 0.66},
			},
			KeyEvidence: []stages.KeyEvidence{
				{ChunkID: "c1", Text: "t", Weight: 0.9, UsedBy: []string{"support"}, VerdictImpact: 0.24},
				{ChunkID: "c2", Weight: 1.7, VerdictImpact: -3},
			},
			ProcessingMetadata: &stages.ProcessingMetadata{ModelsUsed: []string{"DeBERTa", "distilbert-base-uncased"}},
		},
		SynthesisOutcome:   ok("synthesis", "", 300*time.Millisecond),
		Explanation:        "  Support prevails.  ",
		ExplanationOutcome: ok("explanation", "Template", 50*time.Millisecond),
	}

	r := testAggregator().Assemble(run)

	assert.Equal(t, "result-1", r.ID)
	assert.Equal(t, store.VerdictSupport, r.Verdict)
	assert.Equal(t, 0.89, r.Confidence)
	assert.Equal(t, "Support prevails.", r.Reasoning)
	assert.Equal(t, store.StatusCompleted, r.Status)
	assert.Equal(t, 0.32, r.MLScores.ContradictionScore)
	assert.Equal(t, 0.66, r.MLScores.EvidenceQuality)
	assert.Equal(t, 0.8, r.MLScores.Support.Strength)
	assert.Equal(t, fixedNow, r.CreatedAt)

	require.Len(t, r.KeyEvidence, 2)
	assert.Equal(t, 1.0, r.KeyEvidence[1].Weight)
	assert.Equal(t, -1.0, r.KeyEvidence[1].VerdictImpact)
	assert.Equal(t, []string{}, r.KeyEvidence[1].UsedBy)

	assert.Equal(t, []string{"distilbert-base-uncased", "distilroberta-base", "Template", "DeBERTa"}, r.ModelsUsed)
	assert.Equal(t, int64(1500), r.ProcessingMetrics.TotalDurationMs)
	assert.Empty(t, r.ProcessingMetrics.FallbackStages)
	assert.Equal(t, store.StageMetrics{DurationMs: 200, Success: true}, r.ProcessingMetrics.Stages["contradiction"])
}

func TestAssemble_ExplanationNeverChangesVerdict(t *testing.T) {
	run := Run{
		Synthesis:          stages.SynthesisResponse{FinalVerdict: "oppose", Confidence: 0.7, Reasoning: "r"},
		SynthesisOutcome:   ok("synthesis", "", 0),
		Explanation:        "Support clearly wins with 99% confidence.",
		ExplanationOutcome: ok("explanation", "", 0),
	}
	r := testAggregator().Assemble(run)
	assert.Equal(t, store.VerdictOppose, r.Verdict)
	assert.Equal(t, 0.7, r.Confidence)
	assert.Equal(t, "Support clearly wins with 99% confidence.", r.Reasoning)
}

func TestAssemble_ExplanationFallbackKeepsReasoning(t *testing.T) {
	run := Run{
		Synthesis:          stages.SynthesisResponse{FinalVerdict: "mixed", Confidence: 0.6, Reasoning: "synth"},
		SynthesisOutcome:   ok("synthesis", "", 0),
		ExplanationOutcome: fellBack("explanation", worker.FailureTimeout, "timeout"),
	}
	r := testAggregator().Assemble(run)
	assert.Equal(t, "synth", r.Reasoning)
	assert.Equal(t, []string{"explanation"}, r.ProcessingMetrics.FallbackStages)
}

func TestAssemble_SynthesisFallback(t *testing.T) {
	cause := "synthesis worker exited with status 1"
	run := Run{
		Token:                "r1_r2",
		Pair:                 testPair(),
		Judgment:             stages.EvidenceJudgment{Confidence: 0.78},
		QualityOutcome:       ok("quality", "judge", 0),
		Contradiction:        stages.FallbackContradiction(),
		ContradictionOutcome: fellBack("contradiction", worker.FailureTimeout, "timeout"),
		Synthesis:            stages.FallbackSynthesis(cause),
		SynthesisOutcome:     fellBack("synthesis", worker.FailureNonzeroExit, cause),
		ExplanationOutcome:   fellBack("explanation", worker.FailureSpawn, "spawn"),
	}

	r := testAggregator().Assemble(run)

	assert.Equal(t, store.VerdictInconclusive, r.Verdict)
	assert.Equal(t, 0.5, r.Confidence)
	assert.Equal(t, "ML synthesis encountered an error: synthesis worker exited with status 1.", r.Reasoning)
	assert.Equal(t, store.NeutralAgentScores, r.MLScores.Support)
	assert.Equal(t, store.NeutralAgentScores, r.MLScores.Oppose)
	assert.Equal(t, 0.78, r.MLScores.EvidenceQuality, "quality confidence stands in for the synthesizer's score")
	assert.Equal(t, 0.3, r.MLScores.ContradictionScore)
	assert.Empty(t, r.KeyEvidence)
	assert.NotNil(t, r.KeyEvidence)
	assert.Equal(t, store.StatusCompleted, r.Status)
	assert.Equal(t, []string{"contradiction", "synthesis", "explanation"}, r.ProcessingMetrics.FallbackStages)
	assert.Equal(t, "nonzero-exit", r.ProcessingMetrics.Stages["synthesis"].FailureKind)
	assert.Equal(t, []string{"judge"}, r.ModelsUsed)
}

func TestAssemble_NormalizesOutOfRangeValues(t *testing.T) {
	tests := []struct {
		verdict    string
		confidence float64
		wantV      store.Verdict
		wantC      float64
	}{
		{"SUPPORT", 1.4, store.VerdictSupport, 1},
		{" mixed ", -0.2, store.VerdictMixed, 0},
		{"draw", 0.4, store.VerdictInconclusive, 0.4},
		{"oppose", math.NaN(), store.VerdictOppose, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.verdict, func(t *testing.T) {
			r := testAggregator().Assemble(Run{
				Synthesis: stages.SynthesisResponse{
					FinalVerdict: tt.verdict,
					Confidence:   tt.confidence,
					Scores:       stages.SynthesisScores{Support: store.AgentScores{Strength: math.Inf(1)}},
				},
				SynthesisOutcome: ok("synthesis", "", 0),
				Contradiction:    stages.ContradictionAnalysis{ContradictionScore: math.NaN()},
			})
			assert.Equal(t, tt.wantV, r.Verdict)
			assert.Equal(t, tt.wantC, r.Confidence)
			assert.True(t, r.Verdict.Valid())
			assert.Equal(t, 1.0, r.MLScores.Support.Strength)
			assert.Equal(t, 0.3, r.MLScores.ContradictionScore)
		})
	}
}

func TestFallback_DefaultCause(t *testing.T) {
	r := testAggregator().Fallback("tok", resolver.Pair{}, "")
	assert.Equal(t, "ML synthesis encountered an error: synthesis unavailable.", r.Reasoning)
	assert.Equal(t, []string{}, r.ModelsUsed)
}

func TestNormalizeVerdict(t *testing.T) {
	for _, v := range store.Verdicts {
		assert.Equal(t, v, NormalizeVerdict(string(v)))
	}
	assert.Equal(t, store.VerdictInconclusive, NormalizeVerdict(""))
}

func TestNew(t *testing.T) {
	a := New()
	r := a.Fallback("tok", testPair(), "x")
	assert.NotEmpty(t, r.ID)
	assert.NotEqual(t, r.ID, a.Fallback("tok", testPair(), "x").ID)
	assert.Equal(t, time.UTC, r.CreatedAt.Location())
}
