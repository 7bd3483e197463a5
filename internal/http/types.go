package http

import (
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Store     string                  `json:"store,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// ResultsResponse is the response body for GET /api/v1/results.
type ResultsResponse struct {
	Results []store.SynthesisResult `json:"results"`
	Count   int                     `json:"count"`
}

// PendingResponse is the response body for GET /api/v1/pending.
type PendingResponse struct {
	Pairs []store.PendingPair `json:"pairs"`
	Count int                 `json:"count"`
}
