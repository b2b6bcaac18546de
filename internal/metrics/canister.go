package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Canister call outcomes.
const (
	OutcomeOk    = "ok"
	OutcomeErr   = "err"
	OutcomeError = "transport_error"
)

var (
	canisterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canister",
			Name:      "calls_total",
			Help:      "Canister calls by method and outcome (ok, err result, transport error)",
		},
		[]string{"method", "outcome"},
	)

	canisterCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "canister",
			Name:      "call_duration_seconds",
			Help:      "Canister call latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"method"},
	)
)

// RecordCanisterCall records one finished canister call.
func RecordCanisterCall(method, outcome string, elapsed time.Duration) {
	canisterCallsTotal.WithLabelValues(method, outcome).Inc()
	canisterCallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
