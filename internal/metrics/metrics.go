// Package metrics exposes Prometheus counters and histograms for the
// controller's concerns: commands received, outcomes produced, Store
// transaction latency, and failed publishes. Grounded on the teacher's
// common/metrics/metrics.go (NewGRPCMetrics/NewBusinessMetrics shape,
// adapted from RPC-handler metrics to message-handler metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric the controller emits.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	OutcomesTotal    *prometheus.CounterVec
	StoreTxDuration  prometheus.Histogram
	PublishFailures  prometheus.Counter
}

// New registers and returns the controller's metrics under serviceName.
func New(serviceName string) *Metrics {
	return &Metrics{
		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_commands_total",
				Help: "Total number of inbound commands handled, by source queue and verb.",
			},
			[]string{"queue", "verb"},
		),
		OutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_command_outcomes_total",
				Help: "Total number of command outcomes, by verb and outcome.",
			},
			[]string{"verb", "outcome"},
		),
		StoreTxDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_store_transaction_duration_seconds",
				Help:    "Duration of Store transactions (read, transition, write, commit).",
				Buckets: prometheus.DefBuckets,
			},
		),
		PublishFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_publish_failures_total",
				Help: "Total number of outbound publish attempts that failed.",
			},
		),
	}
}
