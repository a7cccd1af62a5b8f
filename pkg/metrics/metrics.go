// Package metrics provides the centralized Prometheus registry reference for
// cachekit. All metrics are defined in their respective packages (cache,
// store, query, compress) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by cachekit.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Manager Metrics (pkg/cache):
//   - cachekit_hits_total{tier} (Counter): Cache hits by tier (l1, edge, store)
//   - cachekit_misses_total (Counter): Cache misses across all tiers
//   - cachekit_sets_total (Counter): Cache writes
//   - cachekit_deletes_total (Counter): Cache deletes
//   - cachekit_evictions_total (Counter): Entries removed by pressure or expiry
//   - cachekit_invalidations_total (Counter): Entries removed by tag invalidation
//   - cachekit_prefetch_queued_total (Counter): Prefetch predictions enqueued
//   - cachekit_prefetch_loads_total (Counter): Prefetch loads that populated a tier
//   - cachekit_prefetch_failures_total (Counter): Prefetch loads that failed
//   - cachekit_hit_rate (Gauge): Rolling hit rate
//   - cachekit_response_time_seconds (Gauge): Rolling average response time
//
// Backing Store Metrics (pkg/store):
//   - cachekit_store_commands_total{operation} (Counter): Commands by operation
//   - cachekit_store_hits_total (Counter): Read hits across both backends
//   - cachekit_store_misses_total (Counter): Read misses
//   - cachekit_store_errors_total{operation} (Counter): Remote command errors
//   - cachekit_store_fallback_ops_total (Counter): Operations served by the in-process fallback
//   - cachekit_store_command_duration_seconds{operation} (Histogram): Command latency
//
// Query Cache Metrics (pkg/query):
//   - cachekit_query_hits_total (Counter): Query cache hits
//   - cachekit_query_misses_total (Counter): Query cache misses
//   - cachekit_query_evictions_total (Counter): Entries evicted under pressure
//   - cachekit_query_invalidations_total (Counter): Entries purged by invalidation
//   - cachekit_query_dropped_writes_total (Counter): Storage writes dropped after quota recovery
//
// Compression Metrics (pkg/compress):
//   - cachekit_compressions_total{algorithm, outcome} (Counter): Compression attempts by outcome (compressed, skipped, not_worth_it, error)
//   - cachekit_compression_bytes_saved_total (Counter): Bytes saved by kept compressions
//   - cachekit_decompression_errors_total{algorithm} (Counter): Decompressions that fell back to raw bytes
//
// Example Prometheus Queries:
//
//   # Overall Cache Hit Rate
//   sum(rate(cachekit_hits_total[5m])) /
//   (sum(rate(cachekit_hits_total[5m])) + sum(rate(cachekit_misses_total[5m])))
//
//   # Share of Traffic Served Without Redis
//   rate(cachekit_store_fallback_ops_total[5m]) /
//   rate(cachekit_store_commands_total[5m])
//
//   # P95 Store Command Latency
//   histogram_quantile(0.95, rate(cachekit_store_command_duration_seconds_bucket[5m]))
//
//   # Prefetch Effectiveness
//   rate(cachekit_prefetch_loads_total[5m]) / rate(cachekit_prefetch_queued_total[5m])
//
//   # Compression Win Rate
//   rate(cachekit_compressions_total{outcome="compressed"}[5m]) /
//   rate(cachekit_compressions_total[5m])
