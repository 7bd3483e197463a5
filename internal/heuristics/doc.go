// Package heuristics implements deterministic, model-free scorers for the
// four analysis stages. The bundled verdict-worker binary serves them so a
// deployment can run the pipeline without any ML tooling installed.
//
// Keyword checks are case-insensitive substring matches, so "no" also
// matches inside "know". Scores are coarse signals, not calibrated
// probabilities.
package heuristics

// Model is reported as model_used by every scorer in this package.
const Model = "heuristic"
