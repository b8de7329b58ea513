// Package metrics exposes the Prometheus metrics registered by the client,
// cache, loader and connection packages.
//
// Metrics are defined next to the code that records them, through promauto
// on the default registerer, so this package only serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package records into.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	)
}

// Request metrics (pkg/client):
//   - crm_api_requests_total{endpoint, status} (Counter): attempts by endpoint and HTTP status
//   - crm_api_request_duration_seconds{endpoint} (Histogram): logical request duration, retries included
//   - crm_api_errors_total{class} (Counter): failed attempts by error class
//   - crm_api_retries_total{error_class} (Counter): retries by the class that caused them
//   - crm_api_retry_backoff_seconds{error_class} (Histogram): delay before each retry
//   - crm_api_retry_exhausted_total{error_class} (Counter): requests that used every retry
//
// Cache metrics (pkg/cache):
//   - crm_cache_hits_total{key} (Counter): fresh reads
//   - crm_cache_misses_total{key} (Counter): absent or expired reads
//   - crm_cache_stale_reads_total{key} (Counter): entries served past their TTL
//   - crm_cache_entry_bytes{key} (Gauge): size of the last entry written
//   - crm_cache_errors_total{operation} (Counter): store and encoding failures
//
// Loader metrics (pkg/loader):
//   - crm_loader_results_total{key, source} (Counter): loads by source (cache, network, stale_cache, errored)
//   - crm_loader_refresh_total{key, outcome} (Counter): background refreshes by outcome
//
// Connectivity metrics (pkg/connection):
//   - crm_backend_up (Gauge): 1 while the backend answers its health probe
//   - crm_backend_health_checks_total{result} (Counter): probes by result
//
// Example queries:
//
//	# Cache hit rate
//	sum(rate(crm_cache_hits_total[5m])) /
//	(sum(rate(crm_cache_hits_total[5m])) + sum(rate(crm_cache_misses_total[5m])))
//
//	# Share of loads answered from stale cache
//	sum(rate(crm_loader_results_total{source="stale_cache"}[5m])) / sum(rate(crm_loader_results_total[5m]))
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(crm_api_request_duration_seconds_bucket[5m]))
