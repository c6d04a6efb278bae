package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type paymentMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	paymentMetricsOnce sync.Once
	paymentRegistry    *paymentMetrics
)

// Payments returns the lazily-initialised metrics registry tracking
// payment-request operations.
func Payments() *paymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentRegistry = &paymentMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payflow",
				Subsystem: "requests",
				Name:      "operations_total",
				Help:      "Payment request operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payflow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(paymentRegistry.operations, paymentRegistry.latency)
	})
	return paymentRegistry
}

// RecordOperation counts one engine operation with its outcome ("ok" or
// "error").
func (m *paymentMetrics) RecordOperation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(normalizeLabel(op), outcome).Inc()
}

// ObserveLatency records the handling time of one RPC method in seconds.
func (m *paymentMetrics) ObserveLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(method)).Observe(seconds)
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(strings.ToLower(v))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
