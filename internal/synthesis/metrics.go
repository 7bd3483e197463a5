package synthesis

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/verdictd/internal/synthesis"

// Run outcomes.
const (
	outcomeCompleted = "completed"
	outcomeCached    = "cached"
	outcomeDuplicate = "duplicate"
	outcomeNotFound  = "not_found"
	outcomeFailed    = "persistence_error"
)

var (
	promMetrics     *prometheusMetrics
	promMetricsOnce sync.Once
)

// prometheusMetrics are scraped from /metrics.
//
//   - verdictd_synthesis_runs_total{outcome}
//   - verdictd_synthesis_verdicts_total{verdict}
//   - verdictd_synthesis_fallback_stages_total{stage}
type prometheusMetrics struct {
	runs      *prometheus.CounterVec
	verdicts  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

func newPrometheusMetrics() *prometheusMetrics {
	promMetricsOnce.Do(func() {
		promMetrics = &prometheusMetrics{
			runs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdictd_synthesis_runs_total",
					Help: "Total number of synthesis runs by outcome",
				},
				[]string{"outcome"},
			),
			verdicts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdictd_synthesis_verdicts_total",
					Help: "Total number of persisted results by verdict",
				},
				[]string{"verdict"},
			),
			fallbacks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdictd_synthesis_fallback_stages_total",
					Help: "Total number of stages that fell back in persisted results",
				},
				[]string{"stage"},
			),
		}
	})
	return promMetrics
}

// metrics records runs on both Prometheus and the OTEL meter.
type metrics struct {
	prom *prometheusMetrics

	duration   metric.Float64Histogram
	confidence metric.Float64Histogram
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	m := &metrics{prom: newPrometheusMetrics()}

	var err error
	m.duration, err = meter.Float64Histogram(
		"verdictd.synthesis.duration",
		metric.WithDescription("Wall time of synthesis runs that executed the pipeline"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.confidence, err = meter.Float64Histogram(
		"verdictd.synthesis.confidence",
		metric.WithDescription("Confidence of persisted results, labeled by verdict"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		logger.Warn("failed to create confidence histogram", zap.Error(err))
	}
	return m
}

func (m *metrics) run(outcome string) {
	m.prom.runs.WithLabelValues(outcome).Inc()
}

func (m *metrics) persisted(ctx context.Context, r *store.SynthesisResult, elapsed time.Duration) {
	m.prom.verdicts.WithLabelValues(string(r.Verdict)).Inc()
	for _, stage := range r.ProcessingMetrics.FallbackStages {
		m.prom.fallbacks.WithLabelValues(stage).Inc()
	}
	attrs := metric.WithAttributes(attribute.String("verdict", string(r.Verdict)))
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if m.confidence != nil {
		m.confidence.Record(ctx, r.Confidence, attrs)
	}
}
