package resolver

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/verdictd/internal/store"
)

// SplitStrategy resolves "<supportOrOpposeID>_<otherID>". Ids may contain
// underscores, so every split point is tried from left to right.
type SplitStrategy struct {
	Responses    store.ResponseStore
	LegacyPrefix string
}

func (s *SplitStrategy) Name() string { return "split" }

func (s *SplitStrategy) TryResolve(ctx context.Context, token string) (*Pair, error) {
	if s.LegacyPrefix != "" && strings.HasPrefix(token, s.LegacyPrefix) {
		return nil, nil
	}
	for i := 0; i < len(token); i++ {
		if token[i] != '_' {
			continue
		}
		left, right := token[:i], token[i+1:]
		if left == "" || right == "" {
			continue
		}
		a, err := lookup(ctx, s.Responses, left)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		b, err := lookup(ctx, s.Responses, right)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		if p := orient(*a, *b); p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// LegacyStrategy resolves tokens carrying the legacy prefix. It scans the
// most recent responses and returns the first session, in recency order,
// holding exactly one support and one oppose response. With several
// sessions pending at once the match is whichever was written last.
type LegacyStrategy struct {
	Responses store.ResponseStore
	Prefix    string
	ScanLimit int
}

func (s *LegacyStrategy) Name() string { return "legacy" }

func (s *LegacyStrategy) TryResolve(ctx context.Context, token string) (*Pair, error) {
	if s.Prefix == "" || !strings.HasPrefix(token, s.Prefix) {
		return nil, nil
	}
	recent, err := s.Responses.RecentResponses(ctx, s.ScanLimit)
	if err != nil {
		return nil, err
	}

	var order []string
	bySession := make(map[string][]store.ArgumentResponse)
	for _, r := range recent {
		if _, seen := bySession[r.SessionID]; !seen {
			order = append(order, r.SessionID)
		}
		bySession[r.SessionID] = append(bySession[r.SessionID], r)
	}

	for _, session := range order {
		if p := exactPair(bySession[session]); p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// PairingKeyStrategy resolves a token equal to the responses' pairing key.
type PairingKeyStrategy struct {
	Responses store.ResponseStore
}

func (s *PairingKeyStrategy) Name() string { return "pairing_key" }

func (s *PairingKeyStrategy) TryResolve(ctx context.Context, token string) (*Pair, error) {
	if token == "" {
		return nil, nil
	}
	group, err := s.Responses.ResponsesByPairingKey(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(group) != 2 {
		return nil, nil
	}
	return orient(group[0], group[1]), nil
}

// CounterpartStrategy treats the token as a single response id and follows
// its counterpart reference.
type CounterpartStrategy struct {
	Responses store.ResponseStore
}

func (s *CounterpartStrategy) Name() string { return "counterpart" }

func (s *CounterpartStrategy) TryResolve(ctx context.Context, token string) (*Pair, error) {
	r, err := lookup(ctx, s.Responses, token)
	if err != nil || r == nil {
		return nil, err
	}
	other, err := lookup(ctx, s.Responses, r.CounterpartID)
	if err != nil || other == nil {
		return nil, err
	}
	return orient(*r, *other), nil
}

// exactPair returns the pair when group holds exactly one response of each
// agent type and nothing else.
func exactPair(group []store.ArgumentResponse) *Pair {
	if len(group) != 2 {
		return nil
	}
	return orient(group[0], group[1])
}
