// Package metrics provides the centralized Prometheus registry reference
// for the bill batch fetcher. All metrics are defined in their respective
// packages (fetch, session, ocr, cache, batch) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the batch fetcher.
// All metrics are automatically registered via promauto in their
// respective packages and exposed at /metrics by the HTTP server.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/fetch):
//   - bill_requests_total{portal, status} (Counter): Lookups by portal and outcome
//   - bill_request_duration_seconds{portal} (Histogram): Lookup duration by portal
//   - bill_errors_total{class} (Counter): Errors by class (http, timeout, invalid_captcha, reference_not_found, extraction, network)
//
// Session Metrics (pkg/session):
//   - bill_captcha_solve_attempts_total{outcome} (Counter): CAPTCHA attempts (verified, rejected, error)
//   - bill_session_acquisitions_total{portal, outcome} (Counter): Session acquisitions by portal
//
// OCR Metrics (pkg/ocr):
//   - bill_ocr_requests_total{outcome} (Counter): OCR.space requests by outcome
//
// Cache Metrics (pkg/cache):
//   - bill_cache_hits_total (Counter): Resolved-amount cache hits
//   - bill_cache_misses_total (Counter): Resolved-amount cache misses
//   - bill_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/batch):
//   - bill_batch_runs_total{outcome} (Counter): Runs by outcome (ok, empty, session_failure)
//   - bill_batch_retries_total (Counter): Bills queued for the retry wave
//   - bill_batch_run_duration_seconds (Histogram): End-to-end run duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(bill_cache_hits_total[5m])) /
//   (sum(rate(bill_cache_hits_total[5m])) + sum(rate(bill_cache_misses_total[5m])))
//
//   # CAPTCHA Solve Rate
//   rate(bill_captcha_solve_attempts_total{outcome="verified"}[15m]) /
//   rate(bill_captcha_solve_attempts_total[15m])
//
//   # Lookup Error Rate
//   rate(bill_errors_total[5m])
//
//   # P95 Lookup Latency
//   histogram_quantile(0.95, rate(bill_request_duration_seconds_bucket[5m]))
