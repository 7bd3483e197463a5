package main

import (
	"context"
	"errors"
	"net/http"

	httpserver "github.com/fyrsmithlabs/verdictd/internal/http"
	"github.com/fyrsmithlabs/verdictd/internal/synthesis"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port    int
		noSweep bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server and the pending-pair sweeper",
		Long: `Run verdictd as a daemon until interrupted.

The HTTP server exposes /health, /metrics and the /api/v1 JSON API. When
sweep.enabled is set, pending pairs are synthesized every sweep.interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if port != 0 {
					a.cfg.Server.Port = port
				}
				if noSweep {
					a.cfg.Sweep.Enabled = false
				}
				return serve(cmd.Context(), a)
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.http_port")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the pending-pair sweeper")
	return cmd
}

// serve blocks until ctx is cancelled or the HTTP server fails, then shuts
// everything down within server.shutdown_timeout.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	srv, err := httpserver.NewServer(a.service, zl, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	},
		httpserver.WithStore(a.store),
		httpserver.WithTelemetry(a.telemetry),
	)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting verdictd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("sweep", cfg.Sweep.Enabled),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Sweep.Enabled {
		sweeper := synthesis.NewSweeper(a.service, cfg.Sweep, a.logger)
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logger.Info(context.WithoutCancel(ctx), "verdictd stopped", zap.Error(err))
	return err
}
