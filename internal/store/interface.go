// Package store defines the persistence collaborators of the synthesis
// pipeline and provides in-memory and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePair is returned by SaveResult when a completed result for
	// the same pair token already exists.
	ErrDuplicatePair = errors.New("synthesis result already exists for pair token")

	// ErrInvalidRecord indicates a record missing required fields.
	ErrInvalidRecord = errors.New("invalid record")
)

// ResponseStore reads and updates argument responses.
type ResponseStore interface {
	// GetResponse returns the response with the given id or ErrNotFound.
	GetResponse(ctx context.Context, id string) (*ArgumentResponse, error)

	// RecentResponses returns up to limit responses, newest first.
	RecentResponses(ctx context.Context, limit int) ([]ArgumentResponse, error)

	// ResponsesByPairingKey returns every response carrying the pairing key.
	ResponsesByPairingKey(ctx context.Context, key string) ([]ArgumentResponse, error)

	// MarkSynthesized sets SynthesisStatus to synthesized for all ids.
	MarkSynthesized(ctx context.Context, ids ...string) error

	// PendingPairs returns pairing-key groups of exactly two responses that
	// are both pending, newest first.
	PendingPairs(ctx context.Context, limit int) ([]PendingPair, error)

	// PutResponse inserts or replaces a response.
	PutResponse(ctx context.Context, r *ArgumentResponse) error
}

// EvidenceStore serves the evidence set of a session.
type EvidenceStore interface {
	// EvidenceForSession returns the session's chunks in insertion order.
	// A session without evidence yields an empty slice, not an error.
	EvidenceForSession(ctx context.Context, sessionID string) ([]EvidenceChunk, error)

	// PutEvidence replaces the session's evidence set.
	PutEvidence(ctx context.Context, sessionID string, chunks []EvidenceChunk) error
}

// ResultStore persists synthesis results keyed by pair token.
type ResultStore interface {
	// GetResult returns the result for the pair token or ErrNotFound.
	GetResult(ctx context.Context, token string) (*SynthesisResult, error)

	// SaveResult inserts the result. A completed result for the same token
	// yields ErrDuplicatePair; a failed one is replaced.
	SaveResult(ctx context.Context, r *SynthesisResult) error

	// MarkResultFailed records a failed result for the token unless a
	// completed one already exists.
	MarkResultFailed(ctx context.Context, r *SynthesisResult, cause string) error

	// ListResults returns up to limit results, newest first.
	ListResults(ctx context.Context, limit int) ([]SynthesisResult, error)

	// ResultStats aggregates completed results. Results created at or after
	// since are counted in Last24h.
	ResultStats(ctx context.Context, since time.Time) (*Stats, error)
}

// Store is the full persistence surface used by the daemon.
type Store interface {
	ResponseStore
	EvidenceStore
	ResultStore

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
