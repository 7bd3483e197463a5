package synthesis

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Synthesizer is the part of Service the sweeper drives.
type Synthesizer interface {
	FindPendingPairs(ctx context.Context, limit int) ([]store.PendingPair, error)
	RunPendingPair(ctx context.Context, p store.PendingPair) (*store.SynthesisResult, error)
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Found       int      `json:"found"`
	Synthesized int      `json:"synthesized"`
	Failed      int      `json:"failed"`
	Tokens      []string `json:"tokens"`
}

// Sweeper synthesizes pending pairs in the background.
type Sweeper struct {
	svc      Synthesizer
	interval time.Duration
	batch    int
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewSweeper creates a sweeper. Zero config values take the defaults.
func NewSweeper(svc Synthesizer, cfg config.SweepConfig, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPendingLimit
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Sweeper{
		svc:      svc,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:   logger,
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	w.logger.Info(ctx, "pending-pair sweeper started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batch))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn(ctx, "sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "pending-pair sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce synthesizes one batch of pending pairs. A failure on one pair is
// logged and counted; the sweep continues with the next.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	pairs, err := w.svc.FindPendingPairs(ctx, w.batch)
	if err != nil {
		return report, err
	}
	report.Found = len(pairs)

	for _, p := range pairs {
		if err := w.limiter.Wait(ctx); err != nil {
			return report, err
		}
		pctx := logging.WithSessionID(ctx, p.SessionID)
		r, err := w.svc.RunPendingPair(pctx, p)
		if err != nil {
			report.Failed++
			w.logger.Warn(pctx, "sweep synthesis failed",
				zap.String("pairing_key", p.PairingKey),
				zap.Strings("response_ids", p.ResponseIDs),
				zap.Error(err))
			continue
		}
		report.Synthesized++
		report.Tokens = append(report.Tokens, r.PairToken)
	}
	if report.Found > 0 {
		w.logger.Info(ctx, "sweep finished",
			zap.Int("found", report.Found),
			zap.Int("synthesized", report.Synthesized),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}
