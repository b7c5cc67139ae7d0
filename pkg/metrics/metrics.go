// Package metrics exports the extractor's Prometheus metrics. The metrics are
// defined in their respective packages (client, cache, pagination, related,
// sink) and registered via promauto; a batch run has no scrape endpoint, so
// the registry is written to a textfile at the end of the run for the node
// exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry every package registers with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry holds.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes all gathered metrics to path in the text exposition
// format, creating the parent directory if needed.
func WriteTextfile(path string) error {
	return WriteTextfileFrom(Gatherer, path)
}

// WriteTextfileFrom writes the metrics of g to path.
func WriteTextfileFrom(g prometheus.Gatherer, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - compras_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - compras_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - compras_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - compras_retries_total{error_class} (Counter): Retry attempts by error class
//   - compras_retry_backoff_seconds (Histogram): Backoff waited before retries
//   - compras_retry_exhausted_total{endpoint} (Counter): Pages that exhausted their attempts
//
// Sweep Metrics (pkg/pagination):
//   - compras_pages_fetched_total{endpoint} (Counter)
//   - compras_records_extracted_total{endpoint} (Counter)
//   - compras_sweeps_total{endpoint, stop} (Counter): Sweeps by stop reason
//
// Lookup Metrics (pkg/related):
//   - compras_related_lookups_total{entity, outcome} (Counter): ok, error, cancelled
//
// Output Metrics (pkg/sink):
//   - compras_sink_rows_written_total{entity} (Counter)
//   - compras_sink_files_written_total{format} (Counter)
//
// Cache Metrics (pkg/cache):
//   - compras_cache_hits_total, compras_cache_misses_total (Counter)
//   - compras_cache_size_bytes (Gauge): Bytes written by this process
//   - compras_cache_errors_total{operation} (Counter)
//
// Example Prometheus Queries:
//
//   # Sweeps cut short by failing pages
//   sum by (endpoint) (compras_sweeps_total{stop="retries_exhausted"})
//
//   # Lookup failure ratio
//   sum(compras_related_lookups_total{outcome="error"}) / sum(compras_related_lookups_total)
