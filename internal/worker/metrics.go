package worker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for worker invocations.
type Metrics struct {
	InvocationsTotal *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
	TruncatedTotal   *prometheus.CounterVec
}

// NewMetrics returns the process-wide worker metrics, registering them on
// first use.
//
// Metrics:
//   - verdictd_worker_invocations_total{stage} - processes started
//   - verdictd_worker_failures_total{stage,kind} - failed invocations by kind
//   - verdictd_worker_duration_seconds{stage} - wall time per invocation
//   - verdictd_worker_output_truncated_total{stage} - invocations whose output hit the cap
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			InvocationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdictd_worker_invocations_total",
					Help: "Total number of worker processes invoked",
				},
				[]string{"stage"},
			),
			FailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdictd_worker_failures_total",
					Help: "Total number of failed worker invocations",
				},
				[]string{"stage", "kind"}, // timeout, nonzero-exit, parse-error, spawn-error
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "verdictd_worker_duration_seconds",
					Help:    "Duration of worker invocations in seconds",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60, 90},
				},
				[]string{"stage"},
			),
			TruncatedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdictd_worker_output_truncated_total",
					Help: "Total number of invocations whose output exceeded the capture limit",
				},
				[]string{"stage"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) observe(stage string, r Result) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(stage).Inc()
	m.Duration.WithLabelValues(stage).Observe(r.Duration.Seconds())
	if kind := r.Kind(); kind != FailureNone {
		m.FailuresTotal.WithLabelValues(stage, string(kind)).Inc()
	}
}
