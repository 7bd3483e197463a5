package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"github.com/fyrsmithlabs/verdictd/internal/events"
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/resolver"
	"github.com/fyrsmithlabs/verdictd/internal/stages"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/synthesis"
	"github.com/fyrsmithlabs/verdictd/internal/telemetry"
	"go.uber.org/zap"
)

// app holds the dependencies one command invocation needs.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     store.Store
	publisher events.Publisher
	service   *synthesis.Service
}

// newApp wires configuration, logging, telemetry, the store and the
// synthesis service. Callers must Close the returned app.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Telemetry providers (degraded, never fatal, when exporters fail)
//  3. Logger, with the OTEL bridge when telemetry provides one
//  4. Store (memory fallback when configured)
//  5. Events publisher (no-op when disabled or unreachable)
//  6. Resolver, stage runner and synthesis service
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lcfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("invalid logging config: %w", err), tel.Shutdown(ctx))
	}
	logger, err := logging.NewLogger(lcfg, tel.LoggerProvider())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize logger: %w", err), tel.Shutdown(ctx))
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel, publisher: events.NopPublisher{}}

	a.store, err = store.NewStore(cfg.Store, logger.Underlying())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open store: %w", err), a.Close(ctx))
	}

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events, logger.Underlying())
		if err != nil {
			logger.Warn(ctx, "events disabled, NATS connection failed",
				zap.String("url", cfg.Events.NATSURL),
				zap.Error(err))
		} else {
			a.publisher = pub
		}
	}

	runner, err := stages.NewProcessRunner(cfg.Workers, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to configure workers: %w", err), a.Close(ctx))
	}

	res := resolver.New(a.store, resolver.Options{
		LegacyPrefix:    cfg.Resolver.LegacyPrefix,
		LegacyScanLimit: cfg.Resolver.LegacyScanLimit,
	}, logger.Underlying())

	a.service, err = synthesis.NewService(a.store, res, runner, logger,
		synthesis.WithPublisher(a.publisher),
		synthesis.WithInstrumentation(tel),
	)
	if err != nil {
		return nil, errors.Join(err, a.Close(ctx))
	}

	logger.Debug(ctx, "verdictd initialized",
		zap.String("store", cfg.Store.Backend),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("telemetry", tel.IsEnabled()))
	return a, nil
}

// Close releases everything newApp acquired.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(ctx))
	}()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
