// Package verdict assembles synthesis results from stage outputs.
//
// Nothing here returns an error. Every path, including a failed synthesis
// stage, yields a well-formed result whose verdict is one of the enumerated
// values and whose confidence lies in [0,1].
package verdict

import (
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/resolver"
	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/google/uuid"
)

// Run collects everything one pipeline pass produced.
type Run struct {
	Token    string
	Pair     resolver.Pair
	Evidence []store.EvidenceChunk
	Started  time.Time

	Judgment       stages.EvidenceJudgment
	QualityOutcome stages.Outcome

	Contradiction        stages.ContradictionAnalysis
	ContradictionOutcome stages.Outcome

	Synthesis        stages.SynthesisResponse
	SynthesisOutcome stages.Outcome

	Explanation        string
	ExplanationOutcome stages.Outcome
}

// Aggregator builds synthesis requests and results.
type Aggregator struct {
	now   func() time.Time
	newID func() string
}

// New creates an Aggregator.
func New() *Aggregator {
	return &Aggregator{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// SynthesisRequest embeds the quality and contradiction results, real or
// fallback, alongside the argument pair and evidence.
func (a *Aggregator) SynthesisRequest(token string, pair resolver.Pair, evidence []store.EvidenceChunk,
	judgment stages.EvidenceJudgment, contradiction stages.ContradictionAnalysis) stages.SynthesisRequest {
	if evidence == nil {
		evidence = []store.EvidenceChunk{}
	}
	return stages.SynthesisRequest{
		PairToken:             token,
		SessionID:             pair.Support.SessionID,
		EvidenceID:            evidenceID(pair),
		Support:               argument(pair.Support),
		Oppose:                argument(pair.Oppose),
		Evidence:              evidence,
		EvidenceJudgment:      judgment,
		ContradictionAnalysis: contradiction,
	}
}

// Assemble builds the completed result for run.
func (a *Aggregator) Assemble(run Run) *store.SynthesisResult {
	var r *store.SynthesisResult
	if run.SynthesisOutcome.Fallback {
		r = a.Fallback(run.Token, run.Pair, run.SynthesisOutcome.Cause)
		r.MLScores.EvidenceQuality = clamp(run.Judgment.Confidence, 0, 1, 0.5)
	} else {
		r = a.fromSynthesis(run.Token, run.Pair, run.Synthesis)
	}

	r.MLScores.ContradictionScore = clamp(run.Contradiction.ContradictionScore, 0, 1, stages.FallbackContradictionScore)

	// The explanation replaces the prose only; verdict and confidence stay.
	if text := strings.TrimSpace(run.Explanation); text != "" {
		r.Reasoning = text
	}

	outcomes := []stages.Outcome{run.QualityOutcome, run.ContradictionOutcome, run.SynthesisOutcome, run.ExplanationOutcome}
	r.ModelsUsed = modelsUsed(outcomes, run.Synthesis)
	r.ProcessingMetrics = processingMetrics(outcomes, run.Started, a.now())
	return r
}

// Fallback is the fully degraded result content used when the synthesis
// stage failed.
func (a *Aggregator) Fallback(token string, pair resolver.Pair, cause string) *store.SynthesisResult {
	if cause == "" {
		cause = "synthesis unavailable"
	}
	return &store.SynthesisResult{
		ID:         a.newID(),
		PairToken:  token,
		SessionID:  pair.Support.SessionID,
		EvidenceID: evidenceID(pair),
		Verdict:    store.VerdictInconclusive,
		Confidence: stages.FallbackConfidence,
		Reasoning:  stages.FallbackReasoning(cause),
		MLScores: store.MLScores{
			Support:            store.NeutralAgentScores,
			Oppose:             store.NeutralAgentScores,
			EvidenceQuality:    0.5,
			ContradictionScore: stages.FallbackContradictionScore,
		},
		KeyEvidence: []store.KeyEvidence{},
		ModelsUsed:  []string{},
		Status:      store.StatusCompleted,
		CreatedAt:   a.now(),
	}
}

func (a *Aggregator) fromSynthesis(token string, pair resolver.Pair, resp stages.SynthesisResponse) *store.SynthesisResult {
	return &store.SynthesisResult{
		ID:         a.newID(),
		PairToken:  token,
		SessionID:  pair.Support.SessionID,
		EvidenceID: evidenceID(pair),
		Verdict:    NormalizeVerdict(resp.FinalVerdict),
		Confidence: store.ClampConfidence(resp.Confidence),
		Reasoning:  resp.Reasoning,
		MLScores: store.MLScores{
			Support:         agentScores(resp.Scores.Support),
			Oppose:          agentScores(resp.Scores.Oppose),
			EvidenceQuality: clamp(resp.Scores.Evidence.QualityScore, 0, 1, 0.5),
		},
		KeyEvidence: keyEvidence(resp.KeyEvidence),
		Status:      store.StatusCompleted,
		CreatedAt:   a.now(),
	}
}

// NormalizeVerdict maps worker output onto the verdict enumeration.
// Anything unrecognised is inconclusive.
func NormalizeVerdict(s string) store.Verdict {
	v := store.Verdict(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return store.VerdictInconclusive
	}
	return v
}

func agentScores(s store.AgentScores) store.AgentScores {
	return store.AgentScores{
		Strength:    clamp(s.Strength, 0, 1, 0.5),
		Coverage:    clamp(s.Coverage, 0, 1, 0.5),
		Consistency: clamp(s.Consistency, 0, 1, 0.5),
	}
}

func keyEvidence(in []stages.KeyEvidence) []store.KeyEvidence {
	out := make([]store.KeyEvidence, 0, len(in))
	for _, k := range in {
		usedBy := k.UsedBy
		if usedBy == nil {
			usedBy = []string{}
		}
		out = append(out, store.KeyEvidence{
			ChunkID:       k.ChunkID,
			Text:          k.Text,
			Weight:        clamp(k.Weight, 0, 1, 0),
			UsedBy:        usedBy,
			VerdictImpact: clamp(k.VerdictImpact, -1, 1, 0),
		})
	}
	return out
}

func modelsUsed(outcomes []stages.Outcome, resp stages.SynthesisResponse) []string {
	seen := make(map[string]bool)
	models := []string{}
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" || m == stages.FallbackModel || seen[m] {
			return
		}
		seen[m] = true
		models = append(models, m)
	}
	for _, o := range outcomes {
		if !o.Fallback {
			add(o.Model)
		}
	}
	if resp.ProcessingMetadata != nil {
		for _, m := range resp.ProcessingMetadata.ModelsUsed {
			add(m)
		}
	}
	return models
}

func processingMetrics(outcomes []stages.Outcome, started, now time.Time) store.ProcessingMetrics {
	pm := store.ProcessingMetrics{
		Stages:         make(map[string]store.StageMetrics, len(outcomes)),
		FallbackStages: []string{},
	}
	for _, o := range outcomes {
		if o.Stage == "" {
			continue
		}
		pm.Stages[o.Stage] = o.Metrics()
		if o.Fallback {
			pm.FallbackStages = append(pm.FallbackStages, o.Stage)
		}
	}
	if !started.IsZero() {
		pm.TotalDurationMs = now.Sub(started).Milliseconds()
	}
	return pm
}

func argument(r store.ArgumentResponse) stages.Argument {
	citations := r.Citations
	if citations == nil {
		citations = []string{}
	}
	return stages.Argument{
		ID:        r.ID,
		AgentType: string(r.AgentType),
		Reasoning: r.ReasoningText,
		Citations: citations,
	}
}

func evidenceID(pair resolver.Pair) string {
	if pair.Support.EvidenceID != "" {
		return pair.Support.EvidenceID
	}
	return pair.Oppose.EvidenceID
}

// clamp bounds v to [lo, hi]; NaN becomes def.
func clamp(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return math.Max(lo, math.Min(hi, v))
}
