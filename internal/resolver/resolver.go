// Package resolver maps opaque pair tokens to a (support, oppose) pair of
// argument responses.
//
// A token may be written in several surface forms. Each form is handled by a
// Strategy; a Chain tries them in a fixed order and fails with
// PairNotFoundError only when none matched.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/verdictd/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/verdictd/internal/resolver"

// ErrPairNotFound matches any PairNotFoundError via errors.Is.
var ErrPairNotFound = errors.New("pair not found")

// Pair is a resolved argument pair.
type Pair struct {
	Support store.ArgumentResponse
	Oppose  store.ArgumentResponse
}

// IDs returns the support and oppose response ids.
func (p Pair) IDs() (string, string) {
	return p.Support.ID, p.Oppose.ID
}

// Token returns the split-form token "<supportID>_<opposeID>".
func (p Pair) Token() string {
	return p.Support.ID + "_" + p.Oppose.ID
}

// ByIDs loads the two responses and orients them into a pair, whichever
// order the ids come in. It fails with PairNotFoundError when either
// response is missing or both argue the same side.
func ByIDs(ctx context.Context, rs store.ResponseStore, idA, idB string) (Pair, error) {
	notFound := &PairNotFoundError{Token: idA + "_" + idB}
	a, err := lookup(ctx, rs, idA)
	if err != nil {
		return Pair{}, fmt.Errorf("lookup response %s: %w", idA, err)
	}
	b, err := lookup(ctx, rs, idB)
	if err != nil {
		return Pair{}, fmt.Errorf("lookup response %s: %w", idB, err)
	}
	if a == nil || b == nil {
		notFound.Attempts = []Attempt{{Strategy: "ids", Reason: "response missing"}}
		return Pair{}, notFound
	}
	p := orient(*a, *b)
	if p == nil {
		notFound.Attempts = []Attempt{{Strategy: "ids", Reason: "responses do not form a support/oppose pair"}}
		return Pair{}, notFound
	}
	return *p, nil
}

// Strategy recognises one surface form of pair token.
//
// TryResolve returns (nil, nil) when the token is not in its form or names
// no pair. A non-nil error reports a lookup problem; the chain records it
// and moves on.
type Strategy interface {
	Name() string
	TryResolve(ctx context.Context, token string) (*Pair, error)
}

// Attempt records why one strategy did not resolve a token.
type Attempt struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// PairNotFoundError is returned when every strategy failed.
type PairNotFoundError struct {
	Token    string
	Attempts []Attempt
}

func (e *PairNotFoundError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("pair not found for token %q", e.Token)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Strategy + ": " + a.Reason
	}
	return fmt.Sprintf("pair not found for token %q (%s)", e.Token, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrPairNotFound) true.
func (e *PairNotFoundError) Is(target error) bool {
	return target == ErrPairNotFound
}

// Chain tries strategies in order.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain creates a chain over strategies, tried in the given order.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Options tunes the default chain.
type Options struct {
	LegacyPrefix    string
	LegacyScanLimit int
}

// DefaultOptions returns the standard legacy prefix and scan depth.
func DefaultOptions() Options {
	return Options{LegacyPrefix: "pair_", LegacyScanLimit: 100}
}

// New builds the standard chain: split form, legacy form, pairing key,
// then counterpart reference.
func New(responses store.ResponseStore, opts Options, logger *zap.Logger) *Chain {
	def := DefaultOptions()
	if opts.LegacyPrefix == "" {
		opts.LegacyPrefix = def.LegacyPrefix
	}
	if opts.LegacyScanLimit <= 0 {
		opts.LegacyScanLimit = def.LegacyScanLimit
	}
	return NewChain(logger,
		&SplitStrategy{Responses: responses, LegacyPrefix: opts.LegacyPrefix},
		&LegacyStrategy{Responses: responses, Prefix: opts.LegacyPrefix, ScanLimit: opts.LegacyScanLimit},
		&PairingKeyStrategy{Responses: responses},
		&CounterpartStrategy{Responses: responses},
	)
}

// Resolve returns the pair named by token.
func (c *Chain) Resolve(ctx context.Context, token string) (Pair, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "resolver.resolve")
	defer span.End()

	notFound := &PairNotFoundError{Token: token}
	for _, s := range c.strategies {
		pair, err := s.TryResolve(ctx, token)
		switch {
		case err != nil:
			c.logger.Debug("resolver strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("token", token),
				zap.Error(err))
			notFound.Attempts = append(notFound.Attempts, Attempt{Strategy: s.Name(), Reason: err.Error()})
		case pair == nil:
			notFound.Attempts = append(notFound.Attempts, Attempt{Strategy: s.Name(), Reason: "no match"})
		default:
			span.SetAttributes(attribute.String("strategy", s.Name()))
			return *pair, nil
		}
	}
	span.SetAttributes(attribute.Bool("not_found", true))
	return Pair{}, notFound
}

// orient orders two responses by agent type. It returns nil unless exactly
// one is support and the other oppose.
func orient(a, b store.ArgumentResponse) *Pair {
	switch {
	case a.AgentType == store.AgentSupport && b.AgentType == store.AgentOppose:
		return &Pair{Support: a, Oppose: b}
	case a.AgentType == store.AgentOppose && b.AgentType == store.AgentSupport:
		return &Pair{Support: b, Oppose: a}
	}
	return nil
}

// lookup fetches a response, mapping store.ErrNotFound to (nil, nil).
func lookup(ctx context.Context, rs store.ResponseStore, id string) (*store.ArgumentResponse, error) {
	if id == "" {
		return nil, nil
	}
	r, err := rs.GetResponse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
