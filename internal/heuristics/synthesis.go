package heuristics

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
)

var citationPattern = regexp.MustCompile(`\[Chunk\s*(\d+)\]`)

var (
	introWords      = []string{"introduction", "overview", "summary", "this document", "the pitch"}
	conclusionWords = []string{"conclusion", "summary", "therefore", "in conclusion", "overall"}

	consistentPositive = []string{"effective", "strong", "good", "excellent", "compelling", "clear", "comprehensive",
		"robust", "thorough", "well", "successful", "beneficial", "credible", "sound"}
	consistentNegative = []string{"weak", "poor", "lacking", "insufficient", "vague", "unclear", "incomplete",
		"questionable", "problematic", "flawed", "inadequate", "limited"}

	rebuttalMarkers = []string{"however", "but", "although", "despite", "conversely", "on the contrary"}
)

const (
	summaryLimit     = 300
	quoteLimit       = 150
	keyEvidenceCount = 3
	keyEvidenceText  = 200
)

// argumentAnalysis holds the per-side measurements.
type argumentAnalysis struct {
	strength      float64
	coverage      float64
	consistency   float64
	factual       float64
	structure     float64
	citationCount int
	wordCount     int
}

func (a argumentAnalysis) scores() store.AgentScores {
	return store.AgentScores{Strength: a.strength, Coverage: a.coverage, Consistency: a.consistency}
}

type contradictionEstimate struct {
	score           float64
	isContradictory bool
}

type verdictCalc struct {
	verdict         store.Verdict
	confidence      float64
	supportStrength float64
	opposeStrength  float64
	diff            float64
}

// Synthesize decides the verdict for req. Quality and contradiction results
// carried in the request take precedence over the local keyword estimates
// unless they are the fixed fallbacks.
func Synthesize(req stages.SynthesisRequest) stages.SynthesisResponse {
	support := analyzeArgument(req.Support, len(req.Evidence))
	oppose := analyzeArgument(req.Oppose, len(req.Evidence))
	quality := evidenceQuality(req.Evidence, support, oppose)

	contra := estimateContradiction(req.Oppose.Reasoning)
	if injected(req.ContradictionAnalysis.ModelUsed) {
		contra = contradictionEstimate{
			score:           clamp(req.ContradictionAnalysis.ContradictionScore, 0, 1),
			isContradictory: req.ContradictionAnalysis.IsContradictory,
		}
	}

	v := decide(support, oppose, quality, contra)

	dims := map[string]float64{
		"factual_grounding":    support.factual,
		"logical_coherence":    oppose.consistency,
		"evidence_integration": (support.coverage + oppose.coverage) / 2,
		"argument_strength":    (support.strength + oppose.strength) / 2,
		"objectivity":          1 - contra.score,
	}
	if injected(req.EvidenceJudgment.ModelUsed) {
		for _, d := range stages.QualityDimensions {
			if s, ok := req.EvidenceJudgment.DimensionScores[d]; ok {
				dims[d] = s
			}
		}
	}

	return stages.SynthesisResponse{
		FinalVerdict: string(v.verdict),
		Confidence:   v.confidence,
		Reasoning: reasoning(v, support, oppose, contra,
			prefix(req.Support.Reasoning, summaryLimit), prefix(req.Oppose.Reasoning, summaryLimit)),
		Scores: stages.SynthesisScores{
			Support:        support.scores(),
			Oppose:         oppose.scores(),
			Evidence:       stages.EvidenceScores{QualityScore: quality, DimensionScores: dims},
			Contradictions: stages.ContradictionScores{ContradictionScore: contra.score},
		},
		KeyEvidence:        keyEvidence(req.Evidence),
		ModelUsed:          Model,
		ProcessingMetadata: &stages.ProcessingMetadata{ModelsUsed: []string{Model}},
	}
}

func injected(model string) bool {
	return model != "" && model != stages.FallbackModel
}

func analyzeArgument(arg stages.Argument, evidenceCount int) argumentAnalysis {
	text := arg.Reasoning
	lower := strings.ToLower(text)

	cited := citationPattern.FindAllStringSubmatch(text, -1)
	distinct := make(map[string]struct{}, len(cited))
	for _, m := range cited {
		distinct[m[1]] = struct{}{}
	}
	words := len(strings.Fields(text))

	coverage := 0.5
	if evidenceCount > 0 {
		coverage = min(float64(len(distinct))/float64(evidenceCount), 1)
	}
	length := min(float64(words)/500, 1)
	density := min(float64(len(cited))/max(float64(words)/100, 1), 1)

	structure := 0.0
	if containsAny(prefix(lower, 200), introWords) {
		structure += 0.3
	}
	if containsAny(suffix(lower, 200), conclusionWords) {
		structure += 0.3
	}
	if strings.Count(text, "\n\n") > 3 || strings.Count(text, "**") > 4 {
		structure += 0.4
	}

	consistency := consistency(lower)
	strength := coverage*0.25 + length*0.15 + density*0.25 + structure*0.15 + consistency*0.20

	return argumentAnalysis{
		strength:      clamp(strength, 0.1, 0.95),
		coverage:      coverage,
		consistency:   consistency,
		factual:       coverage*0.5 + density*0.3 + structure*0.2,
		structure:     structure,
		citationCount: len(cited),
		wordCount:     words,
	}
}

// consistency is high when the argument's tone leans one way. Each band
// reports its midpoint.
func consistency(lower string) float64 {
	pos := countPresent(lower, consistentPositive)
	neg := countPresent(lower, consistentNegative)
	switch {
	case pos > neg*2:
		return 0.9
	case neg > pos*2:
		return 0.85
	case pos > 0 && neg > 0:
		return 0.65
	default:
		return 0.75
	}
}

func evidenceQuality(chunks []store.EvidenceChunk, support, oppose argumentAnalysis) float64 {
	if len(chunks) == 0 {
		return 0.5
	}
	var rel float64
	for _, c := range chunks {
		rel += c.Relevance
	}
	rel /= float64(len(chunks))
	cov := (support.coverage + oppose.coverage) / 2
	return clamp(rel*0.6+cov*0.4, 0.3, 0.9)
}

// estimateContradiction counts rebuttal markers in the opposing argument.
func estimateContradiction(opposeText string) contradictionEstimate {
	n := countPresent(strings.ToLower(opposeText), rebuttalMarkers)
	score := min(float64(n)*0.15, 0.6)
	return contradictionEstimate{score: score, isContradictory: score > 0.3}
}

func decide(support, oppose argumentAnalysis, quality float64, contra contradictionEstimate) verdictCalc {
	s := support.strength * support.consistency * (0.6 + 0.4*support.coverage)
	o := oppose.strength * oppose.consistency * (0.6 + 0.4*oppose.coverage)
	if contra.isContradictory {
		s *= 0.9
		o *= 0.9
	}

	diff := s - o
	abs := math.Abs(diff)
	confidence := clamp(0.4+abs*0.8+quality*0.3, 0.1, 0.95)

	var v store.Verdict
	switch {
	case abs < 0.05:
		v = store.VerdictInconclusive
	case abs < 0.12:
		v = store.VerdictMixed
	case diff > 0.25:
		v = store.VerdictSupport
	case diff < -0.25:
		v = store.VerdictOppose
	case abs < 0.15:
		v = store.VerdictMixed
		confidence *= 0.9
	case diff > 0:
		v = store.VerdictSupport
	default:
		v = store.VerdictOppose
	}
	return verdictCalc{verdict: v, confidence: confidence, supportStrength: s, opposeStrength: o, diff: diff}
}

func pct(v float64) int { return int(v * 100) }

func reasoning(v verdictCalc, support, oppose argumentAnalysis, contra contradictionEstimate, supportSummary, opposeSummary string) string {
	conf := pct(v.confidence)
	switch v.verdict {
	case store.VerdictSupport:
		return fmt.Sprintf("Support prevails with %d%% confidence. "+
			"Its argument scored higher (strength %.2f vs %.2f) with %d words and %d evidence citations, "+
			"covering %d%% of the available evidence. Key supporting points: %s... "+
			"The opposing argument covered %d%% of the evidence and was less complete. "+
			"Factual grounding scored %.2f and contradiction between the sides was %.2f.",
			conf, v.supportStrength, v.opposeStrength, support.wordCount, support.citationCount,
			pct(support.coverage), prefix(supportSummary, quoteLimit),
			pct(oppose.coverage), support.factual, contra.score)
	case store.VerdictOppose:
		return fmt.Sprintf("Oppose prevails with %d%% confidence. "+
			"Its argument scored higher (strength %.2f vs %.2f) with %d words and %d citations, "+
			"covering %d%% of the available evidence. Key opposing points: %s... "+
			"These undermined the supporting case (coverage %d%%), with %d%% contradiction detected between the sides.",
			conf, v.opposeStrength, v.supportStrength, oppose.wordCount, oppose.citationCount,
			pct(oppose.coverage), prefix(opposeSummary, quoteLimit),
			pct(support.coverage), pct(contra.score))
	case store.VerdictInconclusive:
		return fmt.Sprintf("The arguments are too balanced for a clear verdict (%d%% confidence). "+
			"Both sides presented comparable cases (Support %.2f, Oppose %.2f). "+
			"Support covered %d%% of the evidence with %d citations; Oppose covered %d%% with %d citations. "+
			"Additional evidence would be needed for a definitive resolution.",
			conf, v.supportStrength, v.opposeStrength,
			pct(support.coverage), support.citationCount, pct(oppose.coverage), oppose.citationCount)
	default:
		return fmt.Sprintf("The verdict is mixed (%d%% confidence). "+
			"Both sides made substantial cases (Support %.2f, Oppose %.2f). "+
			"Support's %d-word argument cited %d pieces of evidence and Oppose's %d-word argument cited %d. "+
			"A contradiction score of %.2f indicates nuanced disagreement with a %.2f margin between the sides.",
			conf, v.supportStrength, v.opposeStrength,
			support.wordCount, support.citationCount, oppose.wordCount, oppose.citationCount,
			contra.score, math.Abs(v.diff))
	}
}

func keyEvidence(chunks []store.EvidenceChunk) []stages.KeyEvidence {
	out := []stages.KeyEvidence{}
	for i, c := range chunks {
		if i == keyEvidenceCount {
			break
		}
		id := c.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		out = append(out, stages.KeyEvidence{
			ChunkID:       id,
			Text:          prefix(c.Text, keyEvidenceText),
			Weight:        c.Relevance,
			UsedBy:        []string{"support", "oppose"},
			VerdictImpact: (c.Relevance - 0.5) * 0.6,
		})
	}
	return out
}
