package heuristics

import (
	"fmt"

	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
)

// Explain renders a short plain-language explanation of a synthesis result.
func Explain(req stages.ExplanationRequest) string {
	r := req.MLResult
	conf := pct(r.Confidence)
	s := orNeutral(r.Scores.Support.Strength)
	o := orNeutral(r.Scores.Oppose.Strength)
	q := orNeutral(r.Scores.Evidence.QualityScore)

	switch store.Verdict(r.FinalVerdict) {
	case store.VerdictSupport:
		return fmt.Sprintf("Support prevails with %d%% confidence. "+
			"The supporting argument aligned more closely with the evidence (strength %.2f) "+
			"than the opposing argument (%.2f). Evidence quality was assessed at %.2f "+
			"and little contradiction was found between the two sides.", conf, s, o, q)
	case store.VerdictOppose:
		return fmt.Sprintf("Oppose prevails with %d%% confidence. "+
			"The opposing argument countered the claims effectively (strength %.2f), "+
			"outperforming the supporting argument (%.2f). "+
			"Weaknesses in the supporting evidence decided the outcome.", conf, o, s)
	case store.VerdictMixed:
		return fmt.Sprintf("The verdict is mixed with %d%% confidence. "+
			"Both arguments have substantial merit (Support %.2f, Oppose %.2f), "+
			"but neither dominates across all evaluation dimensions.", conf, s, o)
	default:
		return fmt.Sprintf("Both arguments are too evenly matched to declare a winner (%d%% confidence). "+
			"They showed similar strength (Support %.2f, Oppose %.2f) and evidence quality was %.2f. "+
			"More specific evidence would be needed for a definitive verdict.", conf, s, o, q)
	}
}

func orNeutral(v float64) float64 {
	if v == 0 {
		return 0.5
	}
	return v
}
