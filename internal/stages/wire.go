package stages

import "github.com/fyrsmithlabs/verdictd/internal/store"

// QualityRequest is sent to the quality judge.
type QualityRequest struct {
	EvidenceChunks []store.EvidenceChunk `json:"evidence_chunks"`
	UseLightModel  bool                  `json:"use_light_model"`
}

// SideScores is a support/oppose score pair.
type SideScores struct {
	Support float64 `json:"support"`
	Oppose  float64 `json:"oppose"`
}

// EvidenceJudgment is the quality judge's assessment of the evidence set.
type EvidenceJudgment struct {
	Overall         SideScores         `json:"overall"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Winner          string             `json:"winner"`
	Confidence      float64            `json:"confidence"`
	ModelUsed       string             `json:"model_used,omitempty"`
}

type qualityResponse struct {
	EvidenceJudgment *EvidenceJudgment `json:"evidence_judgment"`
}

// ContradictionRequest is sent to the contradiction detector.
type ContradictionRequest struct {
	SupportText   string `json:"support_text"`
	OpposeText    string `json:"oppose_text"`
	UseLightModel bool   `json:"use_light_model"`
}

// StrongContradiction pairs two statements the detector found in conflict.
type StrongContradiction struct {
	SupportStatement string  `json:"support_statement"`
	OpposeStatement  string  `json:"oppose_statement"`
	Confidence       float64 `json:"confidence"`
}

// ContradictionAnalysis is the contradiction detector's output.
type ContradictionAnalysis struct {
	ContradictionScore   float64               `json:"contradiction_score"`
	SimilarityScore      float64               `json:"similarity_score"`
	EntailmentScore      float64               `json:"entailment_score"`
	NeutralScore         float64               `json:"neutral_score"`
	StrongContradictions []StrongContradiction `json:"strong_contradictions"`
	IsContradictory      bool                  `json:"is_contradictory"`
	FallbackUsed         bool                  `json:"fallback_used,omitempty"`
	ModelUsed            string                `json:"model_used,omitempty"`
}

type contradictionResponse struct {
	ContradictionAnalysis *ContradictionAnalysis `json:"contradiction_analysis"`
}

// Argument is one side of the pair as the synthesizer sees it.
type Argument struct {
	ID        string   `json:"id"`
	AgentType string   `json:"agent_type"`
	Reasoning string   `json:"reasoning"`
	Citations []string `json:"citations"`
}

// SynthesisRequest carries the full pairing context plus the quality and
// contradiction results, real or fallback.
type SynthesisRequest struct {
	PairToken             string                `json:"pair_token"`
	SessionID             string                `json:"session_id"`
	EvidenceID            string                `json:"evidence_id"`
	Support               Argument              `json:"support"`
	Oppose                Argument              `json:"oppose"`
	Evidence              []store.EvidenceChunk `json:"evidence"`
	EvidenceJudgment      EvidenceJudgment      `json:"evidence_judgment"`
	ContradictionAnalysis ContradictionAnalysis `json:"contradiction_analysis"`
}

// EvidenceScores is the synthesizer's view of evidence quality.
type EvidenceScores struct {
	QualityScore    float64            `json:"quality_score"`
	DimensionScores map[string]float64 `json:"dimension_scores,omitempty"`
}

// ContradictionScores is the synthesizer's contradiction summary.
type ContradictionScores struct {
	ContradictionScore float64 `json:"contradiction_score"`
}

// SynthesisScores are the numeric parts of a synthesis response.
type SynthesisScores struct {
	Support        store.AgentScores   `json:"support"`
	Oppose         store.AgentScores   `json:"oppose"`
	Evidence       EvidenceScores      `json:"evidence"`
	Contradictions ContradictionScores `json:"contradictions"`
}

// KeyEvidence is the synthesizer's wire form of store.KeyEvidence.
type KeyEvidence struct {
	ChunkID       string   `json:"chunkId"`
	Text          string   `json:"text"`
	Weight        float64  `json:"weight"`
	UsedBy        []string `json:"usedBy"`
	VerdictImpact float64  `json:"verdictImpact"`
}

// ProcessingMetadata is optional worker bookkeeping.
type ProcessingMetadata struct {
	ModelsUsed []string `json:"models_used,omitempty"`
}

// SynthesisResponse is the synthesizer's verdict.
type SynthesisResponse struct {
	FinalVerdict       string              `json:"final_verdict"`
	Confidence         float64             `json:"confidence"`
	Reasoning          string              `json:"reasoning"`
	Scores             SynthesisScores     `json:"scores"`
	KeyEvidence        []KeyEvidence       `json:"key_evidence"`
	ModelUsed          string              `json:"model_used,omitempty"`
	ProcessingMetadata *ProcessingMetadata `json:"processing_metadata,omitempty"`
	FallbackUsed       bool                `json:"fallback_used,omitempty"`
}

// ExplanationRequest is sent to the explainer.
type ExplanationRequest struct {
	MLResult       SynthesisResponse `json:"ml_result"`
	SupportSummary string            `json:"support_summary"`
	OpposeSummary  string            `json:"oppose_summary"`
	UseFreeModel   bool              `json:"use_free_model"`
}

type explanationResponse struct {
	Explanation string `json:"explanation"`
	ModelUsed   string `json:"model_used,omitempty"`
}
