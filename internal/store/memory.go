package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It is the fallback when the durable
// store cannot be opened and the backend used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	responses map[string]*memResponse
	evidence  map[string][]EvidenceChunk
	results   map[string]*memResult
	seq       uint64
}

type memResponse struct {
	rec ArgumentResponse
	seq uint64
}

type memResult struct {
	rec SynthesisResult
	seq uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		responses: make(map[string]*memResponse),
		evidence:  make(map[string][]EvidenceChunk),
		results:   make(map[string]*memResult),
	}
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// GetResponse implements ResponseStore.
func (s *MemoryStore) GetResponse(_ context.Context, id string) (*ArgumentResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.responses[id]
	if !ok {
		return nil, fmt.Errorf("response %q: %w", id, ErrNotFound)
	}
	out := copyResponse(r.rec)
	return &out, nil
}

// RecentResponses implements ResponseStore.
func (s *MemoryStore) RecentResponses(_ context.Context, limit int) ([]ArgumentResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*memResponse, 0, len(s.responses))
	for _, r := range s.responses {
		all = append(all, r)
	}
	sortResponsesNewestFirst(all)

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]ArgumentResponse, 0, len(all))
	for _, r := range all {
		out = append(out, copyResponse(r.rec))
	}
	return out, nil
}

// ResponsesByPairingKey implements ResponseStore.
func (s *MemoryStore) ResponsesByPairingKey(_ context.Context, key string) ([]ArgumentResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*memResponse
	for _, r := range s.responses {
		if key != "" && r.rec.PairingKey == key {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]ArgumentResponse, 0, len(matched))
	for _, r := range matched {
		out = append(out, copyResponse(r.rec))
	}
	return out, nil
}

// MarkSynthesized implements ResponseStore.
func (s *MemoryStore) MarkSynthesized(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.responses[id]; !ok {
			return fmt.Errorf("response %q: %w", id, ErrNotFound)
		}
	}
	for _, id := range ids {
		s.responses[id].rec.SynthesisStatus = SynthesisSynthesized
	}
	return nil
}

// PendingPairs implements ResponseStore.
func (s *MemoryStore) PendingPairs(_ context.Context, limit int) ([]PendingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make(map[string][]*memResponse)
	for _, r := range s.responses {
		if r.rec.PairingKey == "" {
			continue
		}
		groups[r.rec.PairingKey] = append(groups[r.rec.PairingKey], r)
	}

	type candidate struct {
		pair PendingPair
		seq  uint64
	}
	var candidates []candidate
	for key, members := range groups {
		if len(members) != 2 {
			continue
		}
		if members[0].rec.SynthesisStatus != SynthesisPending || members[1].rec.SynthesisStatus != SynthesisPending {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })
		newest := members[1]
		if members[0].rec.CreatedAt.After(newest.rec.CreatedAt) {
			newest = members[0]
		}
		candidates = append(candidates, candidate{
			pair: PendingPair{
				PairingKey:  key,
				SessionID:   members[0].rec.SessionID,
				ResponseIDs: []string{members[0].rec.ID, members[1].rec.ID},
				CreatedAt:   newest.rec.CreatedAt,
			},
			seq: max(members[0].seq, members[1].seq),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].pair.CreatedAt.Equal(candidates[j].pair.CreatedAt) {
			return candidates[i].pair.CreatedAt.After(candidates[j].pair.CreatedAt)
		}
		return candidates[i].seq > candidates[j].seq
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]PendingPair, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.pair)
	}
	return out, nil
}

// PutResponse implements ResponseStore.
func (s *MemoryStore) PutResponse(_ context.Context, r *ArgumentResponse) error {
	if err := validateResponse(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := copyResponse(*r)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = timeNow()
	}
	if rec.SynthesisStatus == "" {
		rec.SynthesisStatus = SynthesisPending
	}
	s.responses[rec.ID] = &memResponse{rec: rec, seq: s.nextSeq()}
	return nil
}

// EvidenceForSession implements EvidenceStore.
func (s *MemoryStore) EvidenceForSession(_ context.Context, sessionID string) ([]EvidenceChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := s.evidence[sessionID]
	out := make([]EvidenceChunk, len(chunks))
	copy(out, chunks)
	return out, nil
}

// PutEvidence implements EvidenceStore.
func (s *MemoryStore) PutEvidence(_ context.Context, sessionID string, chunks []EvidenceChunk) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]EvidenceChunk, len(chunks))
	copy(cp, chunks)
	s.evidence[sessionID] = cp
	return nil
}

// GetResult implements ResultStore.
func (s *MemoryStore) GetResult(_ context.Context, token string) (*SynthesisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[token]
	if !ok {
		return nil, fmt.Errorf("result %q: %w", token, ErrNotFound)
	}
	out := copyResult(r.rec)
	out.Sanitize()
	return &out, nil
}

// SaveResult implements ResultStore.
func (s *MemoryStore) SaveResult(_ context.Context, r *SynthesisResult) error {
	if r == nil || r.PairToken == "" {
		return fmt.Errorf("%w: result without pair token", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.results[r.PairToken]; ok && existing.rec.Status != StatusFailed {
		return fmt.Errorf("pair %q: %w", r.PairToken, ErrDuplicatePair)
	}
	rec := copyResult(*r)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = timeNow()
	}
	s.results[r.PairToken] = &memResult{rec: rec, seq: s.nextSeq()}
	return nil
}

// MarkResultFailed implements ResultStore.
func (s *MemoryStore) MarkResultFailed(_ context.Context, r *SynthesisResult, cause string) error {
	if r == nil || r.PairToken == "" {
		return fmt.Errorf("%w: result without pair token", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.results[r.PairToken]; ok && existing.rec.Status == StatusCompleted {
		return nil
	}
	rec := copyResult(*r)
	rec.Status = StatusFailed
	rec.Error = cause
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = timeNow()
	}
	s.results[r.PairToken] = &memResult{rec: rec, seq: s.nextSeq()}
	return nil
}

// ListResults implements ResultStore.
func (s *MemoryStore) ListResults(_ context.Context, limit int) ([]SynthesisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*memResult, 0, len(s.results))
	for _, r := range s.results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].rec.CreatedAt.Equal(all[j].rec.CreatedAt) {
			return all[i].rec.CreatedAt.After(all[j].rec.CreatedAt)
		}
		return all[i].seq > all[j].seq
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]SynthesisResult, 0, len(all))
	for _, r := range all {
		rec := copyResult(r.rec)
		rec.Sanitize()
		out = append(out, rec)
	}
	return out, nil
}

// ResultStats implements ResultStore.
func (s *MemoryStore) ResultStats(_ context.Context, since time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{ByVerdict: make(map[Verdict]VerdictStats)}
	sums := make(map[Verdict]float64)
	var total float64
	for _, r := range s.results {
		if r.rec.Status == StatusFailed {
			stats.Failed++
			continue
		}
		if r.rec.Status != StatusCompleted {
			continue
		}
		rec := copyResult(r.rec)
		rec.Sanitize()

		stats.Total++
		total += rec.Confidence
		vs := stats.ByVerdict[rec.Verdict]
		vs.Count++
		stats.ByVerdict[rec.Verdict] = vs
		sums[rec.Verdict] += rec.Confidence
		if !rec.CreatedAt.Before(since) {
			stats.Last24h++
		}
	}
	for v, vs := range stats.ByVerdict {
		vs.AvgConfidence = sums[v] / float64(vs.Count)
		stats.ByVerdict[v] = vs
	}
	if stats.Total > 0 {
		stats.AvgConfidence = total / float64(stats.Total)
	}
	return stats, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func sortResponsesNewestFirst(rs []*memResponse) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].rec.CreatedAt.Equal(rs[j].rec.CreatedAt) {
			return rs[i].rec.CreatedAt.After(rs[j].rec.CreatedAt)
		}
		return rs[i].seq > rs[j].seq
	})
}

func copyResponse(r ArgumentResponse) ArgumentResponse {
	if r.Citations != nil {
		r.Citations = append([]string(nil), r.Citations...)
	}
	return r
}

func copyResult(r SynthesisResult) SynthesisResult {
	if r.KeyEvidence != nil {
		ke := make([]KeyEvidence, len(r.KeyEvidence))
		for i, k := range r.KeyEvidence {
			k.UsedBy = append([]string(nil), k.UsedBy...)
			ke[i] = k
		}
		r.KeyEvidence = ke
	}
	if r.ModelsUsed != nil {
		r.ModelsUsed = append([]string(nil), r.ModelsUsed...)
	}
	if r.ProcessingMetrics.Stages != nil {
		stages := make(map[string]StageMetrics, len(r.ProcessingMetrics.Stages))
		for k, v := range r.ProcessingMetrics.Stages {
			stages[k] = v
		}
		r.ProcessingMetrics.Stages = stages
	}
	if r.ProcessingMetrics.FallbackStages != nil {
		r.ProcessingMetrics.FallbackStages = append([]string(nil), r.ProcessingMetrics.FallbackStages...)
	}
	return r
}

func validateResponse(r *ArgumentResponse) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil response", ErrInvalidRecord)
	case r.ID == "":
		return fmt.Errorf("%w: response without id", ErrInvalidRecord)
	case !r.AgentType.Valid():
		return fmt.Errorf("%w: response %q has agent type %q", ErrInvalidRecord, r.ID, r.AgentType)
	}
	return nil
}

// timeNow is replaced in tests.
var timeNow = func() time.Time { return time.Now().UTC() }
