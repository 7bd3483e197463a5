package heuristics

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJudgeEvidence_Empty(t *testing.T) {
	assert.Equal(t, stages.FallbackJudgment(), JudgeEvidence(nil))
	assert.Equal(t, stages.FallbackJudgment(), JudgeEvidence([]store.EvidenceChunk{{ID: "c1"}}))
}

func TestJudgeEvidence_SingleChunkWithSupportSignal(t *testing.T) {
	j := JudgeEvidence([]store.EvidenceChunk{
		{ID: "c1", Text: "The study found 42% improvement; results were good and effective."},
	})

	assert.Equal(t, Model, j.ModelUsed)
	assert.InDelta(t, 1.0, j.DimensionScores["factual_grounding"], 1e-9)
	assert.InDelta(t, 0.7, j.DimensionScores["logical_coherence"], 1e-9)
	assert.InDelta(t, 0.0, j.DimensionScores["evidence_integration"], 1e-9)
	assert.InDelta(t, 0.68, j.DimensionScores["argument_strength"], 1e-9)
	assert.InDelta(t, 1.0, j.DimensionScores["objectivity"], 1e-9)
	assert.InDelta(t, 1.0, j.DimensionScores["signal_confidence"], 1e-9)

	// avg 0.676, boosted by the support signal.
	assert.InDelta(t, 0.8112, j.Overall.Support, 1e-9)
	assert.InDelta(t, 0.2592, j.Overall.Oppose, 1e-9)
	assert.Equal(t, stages.WinnerSupport, j.Winner)
	assert.InDelta(t, 0.552, j.Confidence, 1e-9)
}

func TestJudgeEvidence_Bounds(t *testing.T) {
	j := JudgeEvidence([]store.EvidenceChunk{
		{Text: "obviously terrible and awful, clearly a must"},
		{Text: "fantastic amazing, should be obvious"},
	})
	assert.GreaterOrEqual(t, j.Overall.Support, 0.05)
	assert.LessOrEqual(t, j.Overall.Support, 0.95)
	assert.InDelta(t, 0.2, j.DimensionScores["objectivity"], 1e-9)
	assert.InDelta(t, 0.5, j.DimensionScores["signal_confidence"], 1e-9, "no sentiment keywords")
}

func TestCoherence(t *testing.T) {
	assert.InDelta(t, 0.7, coherence([]string{"only one"}), 1e-9)
	assert.InDelta(t, 0.6, coherence([]string{"the cat sat on mat", "the cat sat there"}), 1e-9)
	assert.InDelta(t, 0.0, coherence([]string{"alpha beta", "gamma delta"}), 1e-9)
}

func TestDetectContradictions_LowScore(t *testing.T) {
	a := DetectContradictions("This is good and strong and effective, yes we should.", "This is bad and weak, no.")

	assert.InDelta(t, 0.4, a.ContradictionScore, 1e-9)
	assert.InDelta(t, 0.6, a.SimilarityScore, 1e-9)
	assert.Equal(t, stages.FallbackEntailmentScore, a.EntailmentScore)
	assert.Equal(t, stages.FallbackNeutralScore, a.NeutralScore)
	assert.False(t, a.IsContradictory)
	assert.NotNil(t, a.StrongContradictions)
	assert.Empty(t, a.StrongContradictions)
	assert.Equal(t, Model, a.ModelUsed)
}

func TestDetectContradictions_StrongPairs(t *testing.T) {
	support := "The policy is good, strong and effective for the whole community. We should say yes because outcomes are positive overall."
	oppose := "The policy is bad, weak and ineffective for most people. It is negative and the answer is no."

	a := DetectContradictions(support, oppose)
	assert.InDelta(t, 0.6, a.ContradictionScore, 1e-9)
	assert.True(t, a.IsContradictory)
	require.Len(t, a.StrongContradictions, 3)
	first := a.StrongContradictions[0]
	assert.Equal(t, "The policy is good, strong and effective for the whole community", first.SupportStatement)
	assert.Equal(t, "The policy is bad, weak and ineffective for most people", first.OpposeStatement)
	assert.InDelta(t, 0.7, first.Confidence, 1e-9)
}

func TestDetectContradictions_ScoreCapped(t *testing.T) {
	text := "good strong effective positive yes should bad weak ineffective negative no should not"
	a := DetectContradictions(text, text)
	assert.InDelta(t, 0.7, a.ContradictionScore, 1e-9)
}

func TestConsistency(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"strong compelling case", 0.9},
		{"weak poor vague", 0.85},
		{"strong but weak", 0.65},
		{"", 0.75},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, consistency(tt.text), tt.text)
		assert.Equal(t, consistency(tt.text), consistency(tt.text), "deterministic")
	}
}

func TestAnalyzeArgument_Citations(t *testing.T) {
	a := analyzeArgument(stages.Argument{Reasoning: "[Chunk 1] and [Chunk 2] and [Chunk 1]"}, 4)
	assert.Equal(t, 3, a.citationCount)
	assert.Equal(t, 8, a.wordCount)
	assert.InDelta(t, 0.5, a.coverage, 1e-9)

	none := analyzeArgument(stages.Argument{Reasoning: "no citations"}, 0)
	assert.InDelta(t, 0.5, none.coverage, 1e-9)
	assert.GreaterOrEqual(t, none.strength, 0.1)
}

func TestAnalyzeArgument_Structure(t *testing.T) {
	text := "Overview of the case.\n\n**A**\n\n**B**\n\n**C**\n\nmore\n\nIn conclusion it holds."
	a := analyzeArgument(stages.Argument{Reasoning: text}, 1)
	assert.InDelta(t, 1.0, a.structure, 1e-9)
}

func TestDecide(t *testing.T) {
	side := func(strength float64) argumentAnalysis {
		return argumentAnalysis{strength: strength, consistency: 1, coverage: 1}
	}

	tests := []struct {
		name     string
		support  argumentAnalysis
		oppose   argumentAnalysis
		contra   contradictionEstimate
		verdict  store.Verdict
		confWant float64
	}{
		{"balanced", side(0.5), side(0.5), contradictionEstimate{}, store.VerdictInconclusive, 0.55},
		{"narrow margin", side(0.6), side(0.5), contradictionEstimate{}, store.VerdictMixed, 0.63},
		{"damped mixed band", side(0.63), side(0.5), contradictionEstimate{}, store.VerdictMixed, (0.4 + 0.13*0.8 + 0.15) * 0.9},
		{"moderate support", side(0.7), side(0.5), contradictionEstimate{}, store.VerdictSupport, 0.71},
		{"moderate oppose", side(0.5), side(0.7), contradictionEstimate{}, store.VerdictOppose, 0.71},
		{"decisive support", side(0.9), side(0.3), contradictionEstimate{}, store.VerdictSupport, 0.95},
		{"contradictory damping", side(0.7), side(0.5), contradictionEstimate{score: 0.5, isContradictory: true}, store.VerdictSupport, 0.4 + 0.18*0.8 + 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := decide(tt.support, tt.oppose, 0.5, tt.contra)
			assert.Equal(t, tt.verdict, v.verdict)
			assert.InDelta(t, tt.confWant, v.confidence, 1e-9)
		})
	}
}

func testRequest() stages.SynthesisRequest {
	return stages.SynthesisRequest{
		PairToken: "r1_r2",
		SessionID: "s1",
		Support: stages.Argument{ID: "r1", AgentType: "support", Reasoning: "Overview: the evidence is strong and compelling [Chunk 1] [Chunk 2] [Chunk 3]. " +
			"Clear, robust and thorough results [Chunk 4]. Therefore the claim is sound."},
		Oppose: stages.Argument{ID: "r2", AgentType: "oppose", Reasoning: "The case is weak."},
		Evidence: []store.EvidenceChunk{
			{ID: "c1", Text: "one", Relevance: 0.9},
			{ID: "c2", Text: "two", Relevance: 0.8},
			{ID: "", Text: "three", Relevance: 0.4},
			{ID: "c4", Text: "four", Relevance: 0.7},
		},
		EvidenceJudgment:      stages.FallbackJudgment(),
		ContradictionAnalysis: stages.FallbackContradiction(),
	}
}

func TestSynthesize(t *testing.T) {
	resp := Synthesize(testRequest())

	assert.Equal(t, string(store.VerdictSupport), resp.FinalVerdict)
	assert.GreaterOrEqual(t, resp.Confidence, 0.1)
	assert.LessOrEqual(t, resp.Confidence, 0.95)
	assert.True(t, strings.HasPrefix(resp.Reasoning, "Support prevails"))
	assert.Equal(t, Model, resp.ModelUsed)
	require.NotNil(t, resp.ProcessingMetadata)
	assert.Equal(t, []string{Model}, resp.ProcessingMetadata.ModelsUsed)
	assert.InDelta(t, 1.0, resp.Scores.Support.Coverage, 1e-9)
	assert.InDelta(t, 0.9, resp.Scores.Support.Consistency, 1e-9)
	assert.InDelta(t, 0.85, resp.Scores.Oppose.Consistency, 1e-9)

	// Fallback contradiction is ignored in favour of the local estimate.
	assert.InDelta(t, 0.0, resp.Scores.Contradictions.ContradictionScore, 1e-9)

	require.Len(t, resp.KeyEvidence, 3)
	assert.Equal(t, "c1", resp.KeyEvidence[0].ChunkID)
	assert.Equal(t, "2", resp.KeyEvidence[2].ChunkID)
	assert.InDelta(t, 0.24, resp.KeyEvidence[0].VerdictImpact, 1e-9)
	assert.InDelta(t, -0.06, resp.KeyEvidence[2].VerdictImpact, 1e-9)
	assert.Equal(t, []string{"support", "oppose"}, resp.KeyEvidence[0].UsedBy)
}

func TestSynthesize_InjectedAnalysesOverride(t *testing.T) {
	req := testRequest()
	req.ContradictionAnalysis = stages.ContradictionAnalysis{ContradictionScore: 0.42, IsContradictory: false, ModelUsed: "nli"}
	req.EvidenceJudgment = stages.EvidenceJudgment{
		DimensionScores: map[string]float64{"factual_grounding": 0.11, "objectivity": 0.22},
		ModelUsed:       "judge",
	}

	resp := Synthesize(req)
	assert.InDelta(t, 0.42, resp.Scores.Contradictions.ContradictionScore, 1e-9)
	assert.InDelta(t, 0.11, resp.Scores.Evidence.DimensionScores["factual_grounding"], 1e-9)
	assert.InDelta(t, 0.22, resp.Scores.Evidence.DimensionScores["objectivity"], 1e-9)
}

func TestSynthesize_NoEvidence(t *testing.T) {
	resp := Synthesize(stages.SynthesisRequest{
		Support: stages.Argument{Reasoning: "x"},
		Oppose:  stages.Argument{Reasoning: "x"},
	})
	assert.Equal(t, string(store.VerdictInconclusive), resp.FinalVerdict)
	assert.InDelta(t, 0.5, resp.Scores.Evidence.QualityScore, 1e-9)
	assert.NotNil(t, resp.KeyEvidence)
	assert.Empty(t, resp.KeyEvidence)
}

func TestExplain(t *testing.T) {
	tests := []struct {
		verdict string
		prefix  string
	}{
		{"support", "Support prevails with 75% confidence."},
		{"oppose", "Oppose prevails with 75% confidence."},
		{"mixed", "The verdict is mixed with 75% confidence."},
		{"inconclusive", "Both arguments are too evenly matched"},
		{"garbage", "Both arguments are too evenly matched"},
	}
	for _, tt := range tests {
		got := Explain(stages.ExplanationRequest{MLResult: stages.SynthesisResponse{FinalVerdict: tt.verdict, Confidence: 0.75}})
		assert.True(t, strings.HasPrefix(got, tt.prefix), "%s: %s", tt.verdict, got)
	}

	got := Explain(stages.ExplanationRequest{MLResult: stages.SynthesisResponse{FinalVerdict: "support", Confidence: 0.75}})
	assert.Contains(t, got, "(strength 0.50)", "missing scores read as neutral")
}
