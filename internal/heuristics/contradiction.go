package heuristics

import (
	"strings"

	"github.com/fyrsmithlabs/verdictd/internal/stages"
)

var (
	affirmingWords = []string{"good", "strong", "effective", "positive", "yes", "should"}
	denyingWords   = []string{"bad", "weak", "ineffective", "negative", "no", "should not"}

	// Sentence-level lists are slightly wider than the document-level ones.
	affirmingSentence = []string{"good", "strong", "effective", "successful", "beneficial", "positive", "yes", "should"}
	denyingSentence   = []string{"bad", "weak", "ineffective", "unsuccessful", "harmful", "negative", "no", "should not"}
)

const (
	maxContradictionScore  = 0.7
	strongContradictionMin = 0.5
	maxStrongContradiction = 3
	sentencesPerSide       = 5
	statementLimit         = 150
)

// DetectContradictions estimates how strongly the two arguments oppose each
// other from sentiment keywords on each side.
func DetectContradictions(supportText, opposeText string) stages.ContradictionAnalysis {
	s := strings.ToLower(supportText)
	o := strings.ToLower(opposeText)

	hits := countPresent(s, affirmingWords) + countPresent(o, denyingWords) +
		countPresent(s, denyingWords) + countPresent(o, affirmingWords)
	score := min(float64(hits)/20, maxContradictionScore)

	return stages.ContradictionAnalysis{
		ContradictionScore:   score,
		SimilarityScore:      1 - score,
		EntailmentScore:      stages.FallbackEntailmentScore,
		NeutralScore:         stages.FallbackNeutralScore,
		StrongContradictions: strongContradictions(supportText, opposeText, score),
		IsContradictory:      score > 0.5,
		ModelUsed:            Model,
	}
}

// strongContradictions pairs sentences of opposite sentiment. Nothing is
// reported below a score of 0.5.
func strongContradictions(support, oppose string, score float64) []stages.StrongContradiction {
	out := []stages.StrongContradiction{}
	if score < strongContradictionMin {
		return out
	}
	supportSents := firstN(sentences(support), sentencesPerSide)
	opposeSents := firstN(sentences(oppose), sentencesPerSide)
	for _, a := range supportSents {
		for _, b := range opposeSents {
			if !opposed(a, b) {
				continue
			}
			out = append(out, stages.StrongContradiction{
				SupportStatement: prefix(a, statementLimit),
				OpposeStatement:  prefix(b, statementLimit),
				Confidence:       min(score+0.1, 0.95),
			})
			if len(out) >= maxStrongContradiction {
				return out
			}
		}
	}
	return out
}

func opposed(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	aPos, aNeg := containsAny(a, affirmingSentence), containsAny(a, denyingSentence)
	bPos, bNeg := containsAny(b, affirmingSentence), containsAny(b, denyingSentence)
	return (aPos && bNeg) || (aNeg && bPos)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
