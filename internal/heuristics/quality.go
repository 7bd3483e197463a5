package heuristics

import (
	"strings"

	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
)

var (
	positiveSignals  = []string{"good", "strong", "effective", "successful", "beneficial", "positive"}
	negativeSignals  = []string{"bad", "weak", "ineffective", "unsuccessful", "harmful", "negative"}
	factualMarkers   = []string{"study", "research", "data", "according", "found"}
	connectors       = []string{"however", "moreover", "furthermore", "additionally", "therefore", "consequently"}
	subjectiveMarker = []string{"amazing", "terrible", "obviously", "clearly", "must", "should", "awful", "fantastic"}
)

// signal is the keyword lean of the evidence.
type signal struct {
	bias       string
	confidence float64
}

// JudgeEvidence scores the evidence set along five quality dimensions.
// Without any chunk text it returns the neutral judgment.
func JudgeEvidence(chunks []store.EvidenceChunk) stages.EvidenceJudgment {
	var texts []string
	for _, c := range chunks {
		if c.Text != "" {
			texts = append(texts, strings.ToLower(c.Text))
		}
	}
	if len(texts) == 0 {
		return stages.FallbackJudgment()
	}

	factual := factualGrounding(texts)
	coherence := coherence(texts)
	integration := integration(texts)
	strength := factual*0.4 + coherence*0.4 + integration*0.2
	objectivity := objectivity(texts)
	sig := keywordSignal(texts)

	avg := (factual + coherence + integration + strength + objectivity) / 5
	support := clamp(avg, 0.3, 0.9)
	oppose := 1 - support

	if sig.confidence > 0.6 {
		switch sig.bias {
		case stages.WinnerSupport:
			support = min(support*1.2, 0.95)
			oppose = max(oppose*0.8, 0.05)
		case stages.WinnerOppose:
			oppose = min(oppose*1.2, 0.95)
			support = max(support*0.8, 0.05)
		}
	}

	winner := stages.WinnerOppose
	if support > oppose {
		winner = stages.WinnerSupport
	}
	diff := support - oppose
	if diff < 0 {
		diff = -diff
	}

	return stages.EvidenceJudgment{
		Overall: stages.SideScores{Support: support, Oppose: oppose},
		DimensionScores: map[string]float64{
			"factual_grounding":    factual,
			"logical_coherence":    coherence,
			"evidence_integration": integration,
			"argument_strength":    strength,
			"objectivity":          objectivity,
			"signal_confidence":    sig.confidence,
		},
		Winner:     winner,
		Confidence: diff,
		ModelUsed:  Model,
	}
}

func keywordSignal(texts []string) signal {
	pos, neg := 0, 0
	for _, t := range texts {
		pos += countPresent(t, positiveSignals)
		neg += countPresent(t, negativeSignals)
	}
	total := pos + neg
	if total == 0 {
		return signal{bias: stages.WinnerNeutral, confidence: 0.5}
	}
	bias := stages.WinnerOppose
	if pos > neg {
		bias = stages.WinnerSupport
	}
	d := pos - neg
	if d < 0 {
		d = -d
	}
	return signal{bias: bias, confidence: float64(d) / float64(total)}
}

// factualGrounding rewards chunks with numbers and research vocabulary.
func factualGrounding(texts []string) float64 {
	n := 0
	for _, t := range texts {
		if hasDigit(t) {
			n++
		}
		if containsAny(t, factualMarkers) {
			n++
		}
	}
	return min(float64(n)/float64(len(texts)*2), 1)
}

// coherence is the share of leading words all chunks have in common.
func coherence(texts []string) float64 {
	if len(texts) < 2 {
		return 0.7
	}
	common := leadingWords(texts[0])
	for _, t := range texts[1:] {
		next := leadingWords(t)
		for w := range common {
			if _, ok := next[w]; !ok {
				delete(common, w)
			}
		}
	}
	return min(float64(len(common))/5, 1)
}

func leadingWords(t string) map[string]struct{} {
	words := strings.Fields(t)
	if len(words) > 10 {
		words = words[:10]
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func integration(texts []string) float64 {
	n := 0
	for _, t := range texts {
		n += countPresent(t, connectors)
	}
	return min(float64(n)/float64(len(texts)), 1)
}

func objectivity(texts []string) float64 {
	n := 0
	for _, t := range texts {
		n += countPresent(t, subjectiveMarker)
	}
	return 1 - min(float64(n)/float64(len(texts)*2), 0.8)
}
