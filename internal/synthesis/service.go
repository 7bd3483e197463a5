package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/resolver"
	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/verdict"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// StatsWindow is the rolling window reported as Stats.Last24h.
const StatsWindow = 24 * time.Hour

// Default limits for list operations.
const (
	DefaultListLimit    = 20
	DefaultPendingLimit = 10
)

// Resolver finds the argument pair named by a token.
type Resolver interface {
	Resolve(ctx context.Context, token string) (resolver.Pair, error)
}

// Publisher announces persisted results.
type Publisher interface {
	PublishCompleted(ctx context.Context, r *store.SynthesisResult) error
}

// Service orchestrates the synthesis pipeline.
type Service struct {
	store      store.Store
	resolver   Resolver
	runner     *stages.Runner
	aggregator *verdict.Aggregator
	publisher  Publisher
	logger     *logging.Logger
	metrics    *metrics
	tracer     trace.Tracer
	now        func() time.Time
	inst       Instrumentation

	flight singleflight.Group
}

// Instrumentation supplies tracers and meters. *telemetry.Telemetry
// satisfies it; the global OpenTelemetry providers are used otherwise.
type Instrumentation interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
}

type globalInstrumentation struct{}

func (globalInstrumentation) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return otel.Tracer(name, opts...)
}

func (globalInstrumentation) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return otel.Meter(name, opts...)
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes a completion event after every persisted result.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithAggregator replaces the default result aggregator.
func WithAggregator(a *verdict.Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

// WithInstrumentation records spans and metrics through i.
func WithInstrumentation(i Instrumentation) Option {
	return func(s *Service) { s.inst = i }
}

// WithClock replaces time.Now for the stats window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a synthesis service.
func NewService(st store.Store, res Resolver, runner *stages.Runner, logger *logging.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if res == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("stage runner cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Service{
		store:      st,
		resolver:   res,
		runner:     runner,
		aggregator: verdict.New(),
		logger:     logger,
		now:        time.Now,
		inst:       globalInstrumentation{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracer = s.inst.Tracer(instrumentationName)
	s.metrics = newMetrics(s.inst.Meter(instrumentationName), logger.Underlying())
	return s, nil
}

// RunSynthesis returns the verdict for the pair named by token, running the
// pipeline unless a completed result is already stored.
//
// The returned error is a *resolver.PairNotFoundError or a
// *PersistenceError. Stage failures are absorbed into the result.
func (s *Service) RunSynthesis(ctx context.Context, token string) (*store.SynthesisResult, error) {
	return s.do(ctx, token, func(ctx context.Context) (resolver.Pair, error) {
		return s.resolver.Resolve(ctx, token)
	})
}

// RunPendingPair synthesizes a pair returned by FindPendingPairs. The pair
// is addressed by its response ids rather than its pairing key, and the
// result is stored under the split token "<supportID>_<opposeID>".
func (s *Service) RunPendingPair(ctx context.Context, p store.PendingPair) (*store.SynthesisResult, error) {
	if len(p.ResponseIDs) != 2 {
		return nil, &resolver.PairNotFoundError{
			Token:    p.PairingKey,
			Attempts: []resolver.Attempt{{Strategy: "ids", Reason: fmt.Sprintf("expected 2 response ids, got %d", len(p.ResponseIDs))}},
		}
	}
	pair, err := resolver.ByIDs(ctx, s.store, p.ResponseIDs[0], p.ResponseIDs[1])
	if err != nil {
		if errors.Is(err, resolver.ErrPairNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Token: p.PairingKey, Op: "lookup", Err: err}
	}
	return s.do(ctx, pair.Token(), func(context.Context) (resolver.Pair, error) {
		return pair, nil
	})
}

type resolveFunc func(ctx context.Context) (resolver.Pair, error)

func (s *Service) do(ctx context.Context, token string, resolve resolveFunc) (*store.SynthesisResult, error) {
	// Only stage timeouts cancel work once a run starts.
	ctx = context.WithoutCancel(ctx)
	ctx = logging.WithPairToken(ctx, token)

	v, err, shared := s.flight.Do(token, func() (any, error) {
		return s.run(ctx, token, resolve)
	})
	if shared {
		s.logger.Debug(ctx, "joined in-flight synthesis")
	}
	if err != nil {
		return nil, err
	}
	r := *v.(*store.SynthesisResult)
	return &r, nil
}

func (s *Service) run(ctx context.Context, token string, resolve resolveFunc) (*store.SynthesisResult, error) {
	ctx, span := s.tracer.Start(ctx, "synthesis.run", trace.WithAttributes(
		attribute.String("pair.token", token),
	))
	defer span.End()

	cached, err := s.store.GetResult(ctx, token)
	switch {
	case err == nil && cached.Status == store.StatusCompleted:
		span.SetAttributes(attribute.Bool("cache_hit", true))
		s.metrics.run(outcomeCached)
		s.logger.Debug(ctx, "returning stored synthesis result")
		s.reconcile(ctx, cached, resolve)
		return cached, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, s.fail(ctx, span, &PersistenceError{Token: token, Op: "lookup", Err: err})
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	started := s.now()
	pair, err := resolve(ctx)
	if err != nil {
		s.metrics.run(outcomeNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pair not found")
		s.logger.Info(ctx, "pair not found", zap.Error(err))
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, pair.Support.SessionID)

	evidence, err := s.store.EvidenceForSession(ctx, pair.Support.SessionID)
	if err != nil {
		s.logger.Warn(ctx, "evidence unavailable, continuing without it", zap.Error(err))
		evidence = []store.EvidenceChunk{}
	}

	result := s.analyze(ctx, verdict.Run{
		Token:    token,
		Pair:     pair,
		Evidence: evidence,
		Started:  started,
	})

	persisted, err := s.persist(ctx, result)
	if err != nil {
		return nil, s.fail(ctx, span, err)
	}
	if persisted != result {
		// Another writer won; its record is authoritative.
		return persisted, nil
	}

	supportID, opposeID := pair.IDs()
	if err := s.store.MarkSynthesized(ctx, supportID, opposeID); err != nil {
		s.logger.Warn(ctx, "failed to mark responses synthesized", zap.Error(err))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishCompleted(ctx, result); err != nil {
			s.logger.Warn(ctx, "failed to publish completion event", zap.Error(err))
		}
	}

	elapsed := s.now().Sub(started)
	s.metrics.run(outcomeCompleted)
	s.metrics.persisted(ctx, result, elapsed)
	span.SetAttributes(
		attribute.String("verdict", string(result.Verdict)),
		attribute.Float64("confidence", result.Confidence),
		attribute.Int("fallback_stages", len(result.ProcessingMetrics.FallbackStages)),
	)
	s.logger.Info(ctx, "synthesis completed",
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("confidence", result.Confidence),
		zap.Strings("fallback_stages", result.ProcessingMetrics.FallbackStages),
		zap.Duration("duration", elapsed),
	)
	return result, nil
}

// reconcile marks the pair behind a stored result synthesized when an
// earlier status update was lost. Failures are logged; the stored result is
// returned regardless.
func (s *Service) reconcile(ctx context.Context, cached *store.SynthesisResult, resolve resolveFunc) {
	pair, err := resolve(ctx)
	if err != nil || pair.Support.SessionID != cached.SessionID {
		return
	}
	if pair.Support.SynthesisStatus != store.SynthesisPending && pair.Oppose.SynthesisStatus != store.SynthesisPending {
		return
	}
	supportID, opposeID := pair.IDs()
	if err := s.store.MarkSynthesized(ctx, supportID, opposeID); err != nil {
		s.logger.Warn(ctx, "failed to mark responses synthesized", zap.Error(err))
		return
	}
	s.logger.Info(ctx, "marked stored pair synthesized",
		zap.String("support_id", supportID),
		zap.String("oppose_id", opposeID))
}

// analyze runs the four stages and assembles the result. It cannot fail.
func (s *Service) analyze(ctx context.Context, run verdict.Run) *store.SynthesisResult {
	var g errgroup.Group
	g.Go(func() error {
		run.Judgment, run.QualityOutcome = s.runner.Quality(ctx, run.Evidence)
		return nil
	})
	g.Go(func() error {
		run.Contradiction, run.ContradictionOutcome = s.runner.Contradiction(ctx,
			run.Pair.Support.ReasoningText, run.Pair.Oppose.ReasoningText)
		return nil
	})
	_ = g.Wait()

	req := s.aggregator.SynthesisRequest(run.Token, run.Pair, run.Evidence, run.Judgment, run.Contradiction)
	run.Synthesis, run.SynthesisOutcome = s.runner.Synthesis(ctx, req)

	run.Explanation, run.ExplanationOutcome = s.runner.Explanation(ctx, run.Synthesis,
		run.Pair.Support.ReasoningText, run.Pair.Oppose.ReasoningText)

	return s.aggregator.Assemble(run)
}

// persist saves r. When a completed result for the token already exists the
// stored record is returned instead.
func (s *Service) persist(ctx context.Context, r *store.SynthesisResult) (*store.SynthesisResult, error) {
	err := s.store.SaveResult(ctx, r)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, store.ErrDuplicatePair):
		stored, gerr := s.store.GetResult(ctx, r.PairToken)
		if gerr != nil {
			return nil, &PersistenceError{Token: r.PairToken, Op: "reread", Err: gerr}
		}
		s.metrics.run(outcomeDuplicate)
		s.logger.Info(ctx, "pair already synthesized by a concurrent run")
		return stored, nil
	}

	if mErr := s.store.MarkResultFailed(ctx, r, err.Error()); mErr != nil {
		s.logger.Error(ctx, "failed to record failed synthesis", zap.Error(mErr))
	}
	return nil, &PersistenceError{Token: r.PairToken, Op: "save", Err: err}
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) error {
	s.metrics.run(outcomeFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error(ctx, "synthesis persistence failed", zap.Error(err))
	return err
}

// GetSynthesisResult returns the stored result for token. A missing result
// yields an error wrapping store.ErrNotFound.
func (s *Service) GetSynthesisResult(ctx context.Context, token string) (*store.SynthesisResult, error) {
	r, err := s.store.GetResult(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get synthesis result: %w", err)
	}
	return r, nil
}

// ListRecentSyntheses returns up to limit results, newest first.
func (s *Service) ListRecentSyntheses(ctx context.Context, limit int) ([]store.SynthesisResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rs, err := s.store.ListResults(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list synthesis results: %w", err)
	}
	return rs, nil
}

// GetSynthesisStats aggregates stored results by verdict, with a count of
// those created within StatsWindow.
func (s *Service) GetSynthesisStats(ctx context.Context) (*store.Stats, error) {
	st, err := s.store.ResultStats(ctx, s.now().Add(-StatsWindow))
	if err != nil {
		return nil, fmt.Errorf("synthesis stats: %w", err)
	}
	return st, nil
}

// FindPendingPairs returns up to limit pairing-key groups of exactly two
// pending responses.
func (s *Service) FindPendingPairs(ctx context.Context, limit int) ([]store.PendingPair, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	ps, err := s.store.PendingPairs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("find pending pairs: %w", err)
	}
	return ps, nil
}
