// Package http provides the verdictd ops HTTP server: health, Prometheus
// metrics and a small JSON API over the synthesis service.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/resolver"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/synthesis"
	"github.com/fyrsmithlabs/verdictd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 100

// Service is the synthesis surface exposed over HTTP.
type Service interface {
	RunSynthesis(ctx context.Context, token string) (*store.SynthesisResult, error)
	GetSynthesisResult(ctx context.Context, token string) (*store.SynthesisResult, error)
	ListRecentSyntheses(ctx context.Context, limit int) ([]store.SynthesisResult, error)
	GetSynthesisStats(ctx context.Context) (*store.Stats, error)
	FindPendingPairs(ctx context.Context, limit int) ([]store.PendingPair, error)
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TelemetryHealth reports exporter health.
type TelemetryHealth interface {
	Health() telemetry.HealthStatus
}

// Server provides HTTP endpoints for verdictd.
type Server struct {
	echo      *echo.Echo
	service   Service
	store     Pinger
	telemetry TelemetryHealth
	metrics   *HTTPMetrics
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithStore makes /health ping the store.
func WithStore(p Pinger) Option {
	return func(s *Server) { s.store = p }
}

// WithTelemetry adds exporter health to /health.
func WithTelemetry(t TelemetryHealth) Option {
	return func(s *Server) { s.telemetry = t }
}

// WithMetrics replaces the default OTEL request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(svc Service, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("synthesis service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	s := &Server{
		service: svc,
		logger:  logger,
		config:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.metrics.MetricsMiddleware())
	s.echo = e

	s.registerRoutes()
	return s, nil
}

// requestContext carries the request id into the request context and logs
// the request once it completes.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

		err := next(c)

		s.logger.Debug("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", id),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/results", s.handleListResults)
	v1.GET("/results/:token", s.handleGetResult)
	v1.POST("/results/:token", s.handleRunSynthesis)
	v1.GET("/stats", s.handleStats)
	v1.GET("/pending", s.handlePending)
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth reports "ok", "degraded" when telemetry export is failing,
// or "unavailable" with 503 when the store cannot be reached.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	code := http.StatusOK

	if s.store != nil {
		resp.Store = "ok"
		if err := s.store.Ping(c.Request().Context()); err != nil {
			s.logger.Warn("store health check failed", zap.Error(err))
			resp.Store = err.Error()
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded && code == http.StatusOK {
			resp.Status = "degraded"
		}
	}
	return c.JSON(code, resp)
}

func (s *Server) handleListResults(c echo.Context) error {
	limit, err := limitParam(c, synthesis.DefaultListLimit)
	if err != nil {
		return err
	}
	results, err := s.service.ListRecentSyntheses(c.Request().Context(), limit)
	if err != nil {
		return s.internalError(c, "list results failed", err)
	}
	if results == nil {
		results = []store.SynthesisResult{}
	}
	return c.JSON(http.StatusOK, ResultsResponse{Results: results, Count: len(results)})
}

func (s *Server) handleGetResult(c echo.Context) error {
	token := c.Param("token")
	r, err := s.service.GetSynthesisResult(c.Request().Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no synthesis result for %q", token))
	}
	if err != nil {
		return s.internalError(c, "get result failed", err)
	}
	return c.JSON(http.StatusOK, r)
}

// handleRunSynthesis runs (or returns the cached) synthesis for the token.
func (s *Server) handleRunSynthesis(c echo.Context) error {
	token := c.Param("token")
	ctx := logging.WithPairToken(c.Request().Context(), token)

	r, err := s.service.RunSynthesis(ctx, token)
	switch {
	case errors.Is(err, resolver.ErrPairNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, synthesis.ErrPersistence):
		s.logger.Error("synthesis persistence failed", zap.String("token", token), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "synthesis result could not be stored")
	case err != nil:
		return s.internalError(c, "run synthesis failed", err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.service.GetSynthesisStats(c.Request().Context())
	if err != nil {
		return s.internalError(c, "stats failed", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handlePending(c echo.Context) error {
	limit, err := limitParam(c, synthesis.DefaultPendingLimit)
	if err != nil {
		return err
	}
	pairs, err := s.service.FindPendingPairs(c.Request().Context(), limit)
	if err != nil {
		return s.internalError(c, "find pending pairs failed", err)
	}
	if pairs == nil {
		pairs = []store.PendingPair{}
	}
	return c.JSON(http.StatusOK, PendingResponse{Pairs: pairs, Count: len(pairs)})
}

func (s *Server) internalError(c echo.Context, msg string, err error) error {
	s.logger.Error(msg,
		zap.String("path", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// limitParam parses ?limit=, applying def when absent and capping at
// MaxListLimit.
func limitParam(c echo.Context, def int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	if n > MaxListLimit {
		n = MaxListLimit
	}
	return n, nil
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
