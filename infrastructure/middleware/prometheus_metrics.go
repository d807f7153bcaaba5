// Package middleware provides cross-cutting concerns shared by the
// scoring server and the batch optimizer.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexera/go-perplex/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It covers scoring latency, request outcomes, and
// run-level gauges such as ensemble size.
type PrometheusMetrics struct {
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
	gauges   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a collector registered on reg. A nil
// registerer uses the default global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perplexity_operation_duration_seconds",
				Help:    "Execution time of scoring and ensemble operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "endpoint"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perplexity_operations_total",
				Help: "Total operations performed, by outcome.",
			},
			[]string{"operation", "status", "endpoint"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perplexity_system_state",
				Help: "Current state values such as ensemble row counts.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records the execution time of an operation.
func (pm *PrometheusMetrics) RecordLatency(
	operation string, duration time.Duration, labels map[string]string,
) {
	pm.latency.WithLabelValues(operation, labels["endpoint"]).Observe(duration.Seconds())
}

// RecordCounter increments the outcome counter for an operation.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	status, ok := labels["status"]
	if !ok {
		status = "ok"
	}
	pm.requests.WithLabelValues(metric, status, labels["endpoint"]).Add(value)
}

// RecordGauge sets the current value of a state gauge.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.gauges.WithLabelValues(metric).Set(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
