package store

import (
	"math"
	"time"
)

// AgentType is the position an argument response argues for.
type AgentType string

const (
	AgentSupport AgentType = "support"
	AgentOppose  AgentType = "oppose"
)

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	return t == AgentSupport || t == AgentOppose
}

// SynthesisStatus tracks an argument response through the pipeline.
type SynthesisStatus string

const (
	SynthesisPending     SynthesisStatus = "pending"
	SynthesisSynthesized SynthesisStatus = "synthesized"
	SynthesisArchived    SynthesisStatus = "archived"
)

// Verdict is the categorical outcome of a synthesis.
type Verdict string

const (
	VerdictSupport      Verdict = "support"
	VerdictOppose       Verdict = "oppose"
	VerdictInconclusive Verdict = "inconclusive"
	VerdictMixed        Verdict = "mixed"
)

// Verdicts lists every verdict in display order.
var Verdicts = []Verdict{VerdictSupport, VerdictOppose, VerdictMixed, VerdictInconclusive}

// Valid reports whether v is one of the enumerated verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSupport, VerdictOppose, VerdictInconclusive, VerdictMixed:
		return true
	}
	return false
}

// ResultStatus is the lifecycle state of a stored SynthesisResult.
type ResultStatus string

const (
	StatusProcessing ResultStatus = "processing"
	StatusCompleted  ResultStatus = "completed"
	StatusFailed     ResultStatus = "failed"
)

// ArgumentResponse is one side of a debate pair, produced by the external
// reasoning provider.
type ArgumentResponse struct {
	ID            string    `json:"id" yaml:"id"`
	SessionID     string    `json:"session_id" yaml:"session_id"`
	EvidenceID    string    `json:"evidence_id" yaml:"evidence_id"`
	AgentType     AgentType `json:"agent_type" yaml:"agent_type"`
	ReasoningText string    `json:"reasoning_text" yaml:"reasoning_text"`
	Citations     []string  `json:"citations,omitempty" yaml:"citations,omitempty"`

	// PairingKey is shared by the two responses of a pair, when the provider
	// assigned one.
	PairingKey string `json:"pairing_key,omitempty" yaml:"pairing_key,omitempty"`

	// CounterpartID references the opposing response directly.
	CounterpartID string `json:"counterpart_id,omitempty" yaml:"counterpart_id,omitempty"`

	SynthesisStatus SynthesisStatus `json:"synthesis_status" yaml:"synthesis_status"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
}

// EvidenceChunk is one scored passage of the evidence set shared by a session.
type EvidenceChunk struct {
	ID        string  `json:"id" yaml:"id"`
	Text      string  `json:"text" yaml:"text"`
	Relevance float64 `json:"relevance" yaml:"relevance"`
}

// AgentScores are the per-position scores reported by the synthesizer.
type AgentScores struct {
	Strength    float64 `json:"strength"`
	Coverage    float64 `json:"coverage"`
	Consistency float64 `json:"consistency"`
}

// NeutralAgentScores is used whenever the synthesizer produced no scores.
var NeutralAgentScores = AgentScores{Strength: 0.5, Coverage: 0.5, Consistency: 0.5}

// MLScores groups the numeric outputs of the scoring stages.
type MLScores struct {
	Support            AgentScores `json:"support"`
	Oppose             AgentScores `json:"oppose"`
	EvidenceQuality    float64     `json:"evidence_quality"`
	ContradictionScore float64     `json:"contradiction_score"`
}

// KeyEvidence is an evidence chunk the synthesizer singled out.
type KeyEvidence struct {
	ChunkID       string   `json:"chunk_id"`
	Text          string   `json:"text"`
	Weight        float64  `json:"weight"`
	UsedBy        []string `json:"used_by"`
	VerdictImpact float64  `json:"verdict_impact"`
}

// StageMetrics describes how a single stage invocation went.
type StageMetrics struct {
	DurationMs  int64  `json:"duration_ms"`
	Success     bool   `json:"success"`
	FailureKind string `json:"failure_kind,omitempty"`
	Fallback    bool   `json:"fallback"`
}

// ProcessingMetrics is attached to every result.
type ProcessingMetrics struct {
	TotalDurationMs int64                   `json:"total_duration_ms"`
	Stages          map[string]StageMetrics `json:"stages"`
	FallbackStages  []string                `json:"fallback_stages"`
}

// SynthesisResult is the adjudicated verdict for one pair token. At most one
// exists per PairToken.
type SynthesisResult struct {
	ID                string            `json:"id"`
	PairToken         string            `json:"pair_token"`
	SessionID         string            `json:"session_id"`
	EvidenceID        string            `json:"evidence_id"`
	Verdict           Verdict           `json:"verdict"`
	Confidence        float64           `json:"confidence"`
	Reasoning         string            `json:"reasoning"`
	MLScores          MLScores          `json:"ml_scores"`
	KeyEvidence       []KeyEvidence     `json:"key_evidence"`
	ModelsUsed        []string          `json:"models_used"`
	ProcessingMetrics ProcessingMetrics `json:"processing_metrics"`
	Status            ResultStatus      `json:"status"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Sanitize forces the verdict and confidence back into their valid domains.
// Every result read from a store passes through it.
func (r *SynthesisResult) Sanitize() {
	if !r.Verdict.Valid() {
		r.Verdict = VerdictInconclusive
	}
	r.Confidence = ClampConfidence(r.Confidence)
}

// ClampConfidence maps any float into [0,1]. NaN becomes 0.5.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}

// VerdictStats aggregates completed results sharing a verdict.
type VerdictStats struct {
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Stats summarises stored results.
type Stats struct {
	Total         int                      `json:"total"`
	Failed        int                      `json:"failed"`
	AvgConfidence float64                  `json:"avg_confidence"`
	ByVerdict     map[Verdict]VerdictStats `json:"by_verdict"`
	Last24h       int                      `json:"last_24h"`
}

// PendingPair is a pairing-key group of exactly two pending responses.
type PendingPair struct {
	PairingKey  string    `json:"pairing_key"`
	SessionID   string    `json:"session_id"`
	ResponseIDs []string  `json:"response_ids"`
	CreatedAt   time.Time `json:"created_at"`
}
