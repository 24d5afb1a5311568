// Package metrics documents the Prometheus metrics exposed by dokufetch.
// All metrics are defined in their respective packages (client, download,
// collate, batch) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by dokufetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - dokufetch_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - dokufetch_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - dokufetch_errors_total{class} (Counter): Errors by class (auth, not_found, client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - dokufetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - dokufetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - dokufetch_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Auth Metrics (pkg/client):
//   - dokufetch_auth_refreshes_total{outcome} (Counter): Login exchanges by outcome (ok, rejected, network_error, decode_error)
//
// Download Metrics (pkg/download):
//   - dokufetch_pages_downloaded_total (Counter): Page images downloaded
//   - dokufetch_page_bytes_total (Counter): Page image bytes downloaded
//
// Collation Metrics (pkg/collate):
//   - dokufetch_collations_total{status} (Counter): Collation runs by status (ok, error)
//
// Batch Metrics (pkg/batch):
//   - dokufetch_articles_total{outcome} (Counter): Articles processed by outcome (done, failed)
//
// Example Prometheus Queries:
//
//   # Article failure rate
//   rate(dokufetch_articles_total{outcome="failed"}[5m]) /
//   rate(dokufetch_articles_total[5m])
//
//   # Retry pressure by error class
//   rate(dokufetch_retries_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(dokufetch_request_duration_seconds_bucket[5m]))
