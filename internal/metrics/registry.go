// Package metrics holds the Prometheus collectors exported by walletd.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	klog "github.com/Klingon-tech/icwallet/internal/log"
)

const namespace = "icwallet"

// Register registers the runtime collectors and every icwallet metric with reg.
func Register(reg prometheus.Registerer) {
	registerIfNotExists(reg, collectors.NewGoCollector(), "go_collector")
	registerIfNotExists(reg, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), "process_collector")

	registerIfNotExists(reg, canisterCallsTotal, "canister_calls_total")
	registerIfNotExists(reg, canisterCallDuration, "canister_call_duration")
	registerIfNotExists(reg, httpRequestsTotal, "http_requests_total")
	registerIfNotExists(reg, httpRequestDuration, "http_request_duration")
	registerIfNotExists(reg, httpErrorsTotal, "http_errors_total")
	registerIfNotExists(reg, queryFetchesTotal, "query_fetches_total")
	registerIfNotExists(reg, queryErrorsTotal, "query_errors_total")
	registerIfNotExists(reg, sessionsActive, "sessions_active")
}

func registerIfNotExists(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			klog.Logger.Debug().Str("collector", name).Msg("Metric already registered")
			return
		}
		klog.Logger.Error().Err(err).Str("collector", name).Msg("Failed to register metric")
	}
}
