// Package metrics provides the centralized Prometheus metrics registry for the
// study server. All metrics are defined in their respective packages (qnet,
// cache, quota, planner, pdf) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the study server.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus exposition
// format. The entrypoint mounts it on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Upstream Request Metrics (pkg/qnet):
//   - qnet_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - qnet_request_duration_seconds{endpoint} (Histogram): Upstream request duration by endpoint
//   - qnet_errors_total{class} (Counter): Errors by class (transport, upstream_general, upstream_specific, quota)
//   - qnet_retries_total{endpoint} (Counter): Retry attempts by endpoint
//   - qnet_retry_backoff_seconds{endpoint} (Histogram): Backoff sleep duration per retry
//   - qnet_retry_exhausted_total{endpoint} (Counter): Fetches that exhausted max attempts
//
// Cache Metrics (pkg/cache):
//   - qnet_cache_hits_total{backend} (Counter): Cache hits by backend (memory, redis)
//   - qnet_cache_misses_total{backend} (Counter): Cache misses by backend
//   - qnet_cache_expired_total{backend} (Counter): Entries evicted lazily on an expired read
//   - qnet_cache_errors_total{operation} (Counter): Cache operation errors
//
// Quota Metrics (pkg/quota):
//   - qnet_quota_calls_used (Gauge): Upstream calls recorded for the current KST day
//   - qnet_quota_blocks_total (Counter): Fetches refused because the daily quota was hit
//
// OpenAI Metrics (pkg/planner):
//   - openai_requests_total{operation, status} (Counter): Completion calls by operation and outcome
//   - openai_request_duration_seconds{operation} (Histogram): Completion call duration
//
// Gemini Metrics (pkg/pdf, shared by quiz and rag flows):
//   - gemini_requests_total{operation, status} (Counter): Provider calls by operation and outcome
//   - gemini_request_duration_seconds{operation} (Histogram): Provider call duration
//   - gemini_tracked_files (Gauge): Provider files tracked by this process
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(qnet_cache_hits_total[5m])) /
//   (sum(rate(qnet_cache_hits_total[5m])) + sum(rate(qnet_cache_misses_total[5m])))
//
//   # Upstream Error Rate
//   rate(qnet_errors_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(qnet_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   rate(qnet_retries_total[5m]) / rate(qnet_requests_total[5m])
