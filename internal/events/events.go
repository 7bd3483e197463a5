// Package events publishes synthesis lifecycle events to NATS.
//
// A completed synthesis is announced on
//
//	{prefix}.{session_id}.completed
//
// so subscribers can follow one session or, with a wildcard, all of them.
// Publishing is best effort; the pipeline never fails because of it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// TypeCompleted is the event type for a persisted synthesis.
const TypeCompleted = "synthesis.completed"

// CompletedEvent is the payload published after a result is persisted.
type CompletedEvent struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	PairToken      string        `json:"pair_token"`
	SessionID      string        `json:"session_id"`
	ResultID       string        `json:"result_id"`
	Verdict        store.Verdict `json:"verdict"`
	Confidence     float64       `json:"confidence"`
	FallbackStages []string      `json:"fallback_stages"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// NewCompletedEvent builds the event for r.
func NewCompletedEvent(r *store.SynthesisResult) CompletedEvent {
	fallbacks := r.ProcessingMetrics.FallbackStages
	if fallbacks == nil {
		fallbacks = []string{}
	}
	return CompletedEvent{
		ID:             uuid.NewString(),
		Type:           TypeCompleted,
		PairToken:      r.PairToken,
		SessionID:      r.SessionID,
		ResultID:       r.ID,
		Verdict:        r.Verdict,
		Confidence:     r.Confidence,
		FallbackStages: fallbacks,
		OccurredAt:     time.Now().UTC(),
	}
}

// Publisher announces completed syntheses.
type Publisher interface {
	PublishCompleted(ctx context.Context, r *store.SynthesisResult) error
	Close() error
}

// NopPublisher discards events. It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) PublishCompleted(context.Context, *store.SynthesisResult) error { return nil }
func (NopPublisher) Close() error                                                  { return nil }

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// NewNATSPublisher publishes on an existing connection. The caller keeps
// ownership of nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "verdictd.synthesis"

// Connect dials NATS using cfg. The returned publisher owns the connection.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("verdictd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	fields := []zap.Field{zap.String("url", cfg.NATSURL)}
	if cfg.Token.IsSet() {
		fields = append(fields, logging.Secret("nats_token", cfg.Token))
	}
	logger.Info("connected to NATS", fields...)

	p := NewNATSPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// PublishCompleted publishes the completion event for r.
func (p *NATSPublisher) PublishCompleted(_ context.Context, r *store.SynthesisResult) error {
	data, err := json.Marshal(NewCompletedEvent(r))
	if err != nil {
		return fmt.Errorf("marshal completed event: %w", err)
	}
	subject := CompletedSubject(p.prefix, r.SessionID)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish completed event: %w", err)
	}
	p.logger.Debug("published event", zap.String("subject", subject), zap.String("pair_token", r.PairToken))
	return nil
}

// Close flushes pending messages and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil || !p.owned {
		return nil
	}
	err := p.nc.FlushTimeout(2 * time.Second)
	p.nc.Close()
	if err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Connected reports whether the underlying connection is up.
func (p *NATSPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// CompletedSubject returns the subject for a session's completion events.
// Characters NATS treats specially are replaced so a session id always
// occupies exactly one token.
func CompletedSubject(prefix, sessionID string) string {
	return prefix + "." + subjectToken(sessionID) + ".completed"
}

func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
