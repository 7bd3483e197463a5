package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a private in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			evidence_id TEXT NOT NULL DEFAULT '',
			agent_type TEXT NOT NULL,
			reasoning_text TEXT NOT NULL DEFAULT '',
			citations TEXT NOT NULL DEFAULT '[]',
			pairing_key TEXT NOT NULL DEFAULT '',
			counterpart_id TEXT NOT NULL DEFAULT '',
			synthesis_status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS evidence_chunks (
			session_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			chunk_id TEXT NOT NULL,
			text TEXT NOT NULL,
			relevance REAL NOT NULL,
			PRIMARY KEY (session_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS synthesis_results (
			pair_token TEXT NOT NULL UNIQUE,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			evidence_id TEXT NOT NULL DEFAULT '',
			verdict TEXT NOT NULL,
			confidence REAL NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			ml_scores TEXT NOT NULL DEFAULT '{}',
			key_evidence TEXT NOT NULL DEFAULT '[]',
			models_used TEXT NOT NULL DEFAULT '[]',
			processing_metrics TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_pairing_key ON responses(pairing_key)`,
		`CREATE INDEX IF NOT EXISTS idx_results_created ON synthesis_results(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_status ON synthesis_results(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

const responseColumns = `id, session_id, evidence_id, agent_type, reasoning_text, citations,
	pairing_key, counterpart_id, synthesis_status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*ArgumentResponse, error) {
	var (
		r         ArgumentResponse
		citations string
		created   int64
	)
	if err := row.Scan(&r.ID, &r.SessionID, &r.EvidenceID, &r.AgentType, &r.ReasoningText, &citations,
		&r.PairingKey, &r.CounterpartID, &r.SynthesisStatus, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(citations), &r.Citations); err != nil {
		return nil, fmt.Errorf("failed to decode citations of %q: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}

func (s *SQLiteStore) queryResponses(ctx context.Context, query string, args ...any) ([]ArgumentResponse, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := []ArgumentResponse{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetResponse implements ResponseStore.
func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (*ArgumentResponse, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id = ?`, id)
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("response %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response %q: %w", id, err)
	}
	return r, nil
}

// RecentResponses implements ResponseStore.
func (s *SQLiteStore) RecentResponses(ctx context.Context, limit int) ([]ArgumentResponse, error) {
	return s.queryResponses(ctx,
		`SELECT `+responseColumns+` FROM responses ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sqlLimit(limit))
}

// ResponsesByPairingKey implements ResponseStore.
func (s *SQLiteStore) ResponsesByPairingKey(ctx context.Context, key string) ([]ArgumentResponse, error) {
	if key == "" {
		return []ArgumentResponse{}, nil
	}
	return s.queryResponses(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE pairing_key = ? ORDER BY rowid`, key)
}

// MarkSynthesized implements ResponseStore.
func (s *SQLiteStore) MarkSynthesized(ctx context.Context, ids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE responses SET synthesis_status = ? WHERE id = ?`, SynthesisSynthesized, id)
		if err != nil {
			return fmt.Errorf("failed to update response %q: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("response %q: %w", id, ErrNotFound)
		}
	}
	return tx.Commit()
}

// PendingPairs implements ResponseStore.
func (s *SQLiteStore) PendingPairs(ctx context.Context, limit int) ([]PendingPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pairing_key, MIN(session_id), MAX(created_at)
		FROM responses
		WHERE pairing_key != ''
		GROUP BY pairing_key
		HAVING COUNT(*) = 2
		   AND SUM(CASE WHEN synthesis_status = 'pending' THEN 1 ELSE 0 END) = 2
		ORDER BY MAX(created_at) DESC, MAX(rowid) DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending pairs: %w", err)
	}

	var pairs []PendingPair
	for rows.Next() {
		var (
			p       PendingPair
			created int64
		)
		if err := rows.Scan(&p.PairingKey, &p.SessionID, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pending pair: %w", err)
		}
		p.CreatedAt = time.Unix(0, created).UTC()
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]PendingPair, 0, len(pairs))
	for _, p := range pairs {
		members, err := s.ResponsesByPairingKey(ctx, p.PairingKey)
		if err != nil {
			return nil, err
		}
		if len(members) != 2 {
			continue
		}
		p.ResponseIDs = []string{members[0].ID, members[1].ID}
		out = append(out, p)
	}
	return out, nil
}

// PutResponse implements ResponseStore.
func (s *SQLiteStore) PutResponse(ctx context.Context, r *ArgumentResponse) error {
	if err := validateResponse(r); err != nil {
		return err
	}
	citations, err := json.Marshal(nonNilStrings(r.Citations))
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = timeNow()
	}
	status := r.SynthesisStatus
	if status == "" {
		status = SynthesisPending
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses (`+responseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			evidence_id = excluded.evidence_id,
			agent_type = excluded.agent_type,
			reasoning_text = excluded.reasoning_text,
			citations = excluded.citations,
			pairing_key = excluded.pairing_key,
			counterpart_id = excluded.counterpart_id,
			synthesis_status = excluded.synthesis_status,
			created_at = excluded.created_at`,
		r.ID, r.SessionID, r.EvidenceID, r.AgentType, r.ReasoningText, string(citations),
		r.PairingKey, r.CounterpartID, status, created.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to put response %q: %w", r.ID, err)
	}
	return nil
}

// EvidenceForSession implements EvidenceStore.
func (s *SQLiteStore) EvidenceForSession(ctx context.Context, sessionID string) ([]EvidenceChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, text, relevance FROM evidence_chunks WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	out := []EvidenceChunk{}
	for rows.Next() {
		var c EvidenceChunk
		if err := rows.Scan(&c.ID, &c.Text, &c.Relevance); err != nil {
			return nil, fmt.Errorf("failed to scan evidence chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutEvidence implements EvidenceStore.
func (s *SQLiteStore) PutEvidence(ctx context.Context, sessionID string, chunks []EvidenceChunk) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidRecord)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_chunks WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear evidence: %w", err)
	}
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_chunks (session_id, position, chunk_id, text, relevance) VALUES (?, ?, ?, ?, ?)`,
			sessionID, i, c.ID, c.Text, c.Relevance); err != nil {
			return fmt.Errorf("failed to insert evidence chunk %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

const resultColumns = `pair_token, id, session_id, evidence_id, verdict, confidence, reasoning,
	ml_scores, key_evidence, models_used, processing_metrics, status, error, created_at`

func scanResult(row rowScanner) (*SynthesisResult, error) {
	var (
		r                                    SynthesisResult
		scores, keyEvidence, models, metrics string
		created                              int64
	)
	if err := row.Scan(&r.PairToken, &r.ID, &r.SessionID, &r.EvidenceID, &r.Verdict, &r.Confidence, &r.Reasoning,
		&scores, &keyEvidence, &models, &metrics, &r.Status, &r.Error, &created); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  string
		dest any
	}{
		{scores, &r.MLScores},
		{keyEvidence, &r.KeyEvidence},
		{models, &r.ModelsUsed},
		{metrics, &r.ProcessingMetrics},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("failed to decode result %q: %w", r.PairToken, err)
		}
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.Sanitize()
	return &r, nil
}

type encodedResult struct {
	scores, keyEvidence, models, metrics string
	created                              int64
}

func encodeResult(r *SynthesisResult) (*encodedResult, error) {
	enc := &encodedResult{}
	for _, f := range []struct {
		src  any
		dest *string
	}{
		{r.MLScores, &enc.scores},
		{nonNilKeyEvidence(r.KeyEvidence), &enc.keyEvidence},
		{nonNilStrings(r.ModelsUsed), &enc.models},
		{r.ProcessingMetrics, &enc.metrics},
	} {
		b, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result %q: %w", r.PairToken, err)
		}
		*f.dest = string(b)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = timeNow()
	}
	enc.created = created.UnixNano()
	return enc, nil
}

// GetResult implements ResultStore.
func (s *SQLiteStore) GetResult(ctx context.Context, token string) (*SynthesisResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM synthesis_results WHERE pair_token = ?`, token)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %q: %w", token, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result %q: %w", token, err)
	}
	return r, nil
}

// SaveResult implements ResultStore. The UNIQUE constraint on pair_token
// decides concurrent writers; only a failed row may be overwritten.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *SynthesisResult) error {
	if r == nil || r.PairToken == "" {
		return fmt.Errorf("%w: result without pair token", ErrInvalidRecord)
	}
	enc, err := encodeResult(r)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO synthesis_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_token) DO UPDATE SET
			id = excluded.id,
			session_id = excluded.session_id,
			evidence_id = excluded.evidence_id,
			verdict = excluded.verdict,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning,
			ml_scores = excluded.ml_scores,
			key_evidence = excluded.key_evidence,
			models_used = excluded.models_used,
			processing_metrics = excluded.processing_metrics,
			status = excluded.status,
			error = excluded.error,
			created_at = excluded.created_at
		WHERE synthesis_results.status = 'failed'`,
		r.PairToken, r.ID, r.SessionID, r.EvidenceID, r.Verdict, r.Confidence, r.Reasoning,
		enc.scores, enc.keyEvidence, enc.models, enc.metrics, r.Status, r.Error, enc.created)
	if err != nil {
		return fmt.Errorf("failed to save result %q: %w", r.PairToken, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save result %q: %w", r.PairToken, err)
	}
	if n == 0 {
		return fmt.Errorf("pair %q: %w", r.PairToken, ErrDuplicatePair)
	}
	return nil
}

// MarkResultFailed implements ResultStore.
func (s *SQLiteStore) MarkResultFailed(ctx context.Context, r *SynthesisResult, cause string) error {
	if r == nil || r.PairToken == "" {
		return fmt.Errorf("%w: result without pair token", ErrInvalidRecord)
	}
	enc, err := encodeResult(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO synthesis_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_token) DO UPDATE SET
			status = excluded.status,
			error = excluded.error
		WHERE synthesis_results.status != 'completed'`,
		r.PairToken, r.ID, r.SessionID, r.EvidenceID, r.Verdict, r.Confidence, r.Reasoning,
		enc.scores, enc.keyEvidence, enc.models, enc.metrics, StatusFailed, cause, enc.created)
	if err != nil {
		return fmt.Errorf("failed to mark result %q failed: %w", r.PairToken, err)
	}
	return nil
}

// ListResults implements ResultStore.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]SynthesisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM synthesis_results ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	out := []SynthesisResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ResultStats implements ResultStore.
func (s *SQLiteStore) ResultStats(ctx context.Context, since time.Time) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verdict, COUNT(*), SUM(confidence),
		       SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END)
		FROM synthesis_results
		WHERE status = 'completed'
		GROUP BY verdict`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate results: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByVerdict: make(map[Verdict]VerdictStats)}
	var total float64
	for rows.Next() {
		var (
			v      Verdict
			count  int
			sum    float64
			recent int
		)
		if err := rows.Scan(&v, &count, &sum, &recent); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		if !v.Valid() {
			v = VerdictInconclusive
		}
		vs := stats.ByVerdict[v]
		// Re-average when an invalid verdict was folded into inconclusive.
		combined := vs.AvgConfidence*float64(vs.Count) + sum
		vs.Count += count
		vs.AvgConfidence = ClampConfidence(combined / float64(vs.Count))
		stats.ByVerdict[v] = vs

		stats.Total += count
		stats.Last24h += recent
		total += sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.AvgConfidence = ClampConfidence(total / float64(stats.Total))
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM synthesis_results WHERE status = 'failed'`).Scan(&stats.Failed); err != nil {
		return nil, fmt.Errorf("failed to count failed results: %w", err)
	}
	return stats, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilKeyEvidence(k []KeyEvidence) []KeyEvidence {
	if k == nil {
		return []KeyEvidence{}
	}
	return k
}
