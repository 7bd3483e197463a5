package stages

import (
	"fmt"

	"github.com/fyrsmithlabs/verdictd/internal/store"
)

// Fixed fallback values.
const (
	FallbackContradictionScore = 0.3
	FallbackSimilarityScore    = 0.5
	FallbackEntailmentScore    = 0.3
	FallbackNeutralScore       = 0.4
	FallbackConfidence         = 0.5

	FallbackModel = "fallback"
)

// Evidence judgment winners.
const (
	WinnerSupport = "support"
	WinnerOppose  = "oppose"
	WinnerNeutral = "neutral"
)

// QualityDimensions lists the dimensions a judgment reports.
var QualityDimensions = []string{
	"factual_grounding",
	"logical_coherence",
	"evidence_integration",
	"argument_strength",
	"objectivity",
}

// FallbackJudgment is the balanced judgment used when the quality stage fails.
func FallbackJudgment() EvidenceJudgment {
	dims := make(map[string]float64, len(QualityDimensions))
	for _, d := range QualityDimensions {
		dims[d] = 0.5
	}
	return EvidenceJudgment{
		Overall:         SideScores{Support: 0.5, Oppose: 0.5},
		DimensionScores: dims,
		Winner:          WinnerNeutral,
		Confidence:      0.5,
		ModelUsed:       FallbackModel,
	}
}

// FallbackContradiction is the low-contradiction analysis used when the
// contradiction stage fails.
func FallbackContradiction() ContradictionAnalysis {
	return ContradictionAnalysis{
		ContradictionScore:   FallbackContradictionScore,
		SimilarityScore:      FallbackSimilarityScore,
		EntailmentScore:      FallbackEntailmentScore,
		NeutralScore:         FallbackNeutralScore,
		StrongContradictions: []StrongContradiction{},
		IsContradictory:      false,
		FallbackUsed:         true,
		ModelUsed:            FallbackModel,
	}
}

// FallbackReasoning names the cause of a synthesis failure.
func FallbackReasoning(cause string) string {
	return fmt.Sprintf("ML synthesis encountered an error: %s.", cause)
}

// FallbackSynthesis is the inconclusive response used when the synthesis
// stage fails.
func FallbackSynthesis(cause string) SynthesisResponse {
	return SynthesisResponse{
		FinalVerdict: string(store.VerdictInconclusive),
		Confidence:   FallbackConfidence,
		Reasoning:    FallbackReasoning(cause),
		Scores: SynthesisScores{
			Support:        store.NeutralAgentScores,
			Oppose:         store.NeutralAgentScores,
			Evidence:       EvidenceScores{QualityScore: 0.5},
			Contradictions: ContradictionScores{ContradictionScore: 0.5},
		},
		KeyEvidence:  []KeyEvidence{},
		FallbackUsed: true,
	}
}
