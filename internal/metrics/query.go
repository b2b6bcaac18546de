package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	queryFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "fetches_total",
			Help:      "Query lookups by kind and source (cache, shared, remote)",
		},
		[]string{"kind", "source"},
	)

	queryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Errors seen by the query error handler by class",
		},
		[]string{"class"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of unlocked sessions",
		},
	)
)

// RecordFetch counts a query lookup.
func RecordFetch(kind, source string) {
	queryFetchesTotal.WithLabelValues(kind, source).Inc()
}

// RecordQueryError counts an error by class.
func RecordQueryError(class string) {
	queryErrorsTotal.WithLabelValues(class).Inc()
}

// SetActiveSessions sets the active session gauge.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}
