package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queryHitsTotal tracks cached query hits.
	queryHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_query_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	// queryMissesTotal tracks cached query misses.
	queryMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_query_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	// queryEvictionsTotal tracks memory tier pressure evictions.
	queryEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_query_evictions_total",
			Help: "Total number of query cache entries evicted under pressure",
		},
	)

	// queryInvalidationsTotal tracks entries purged by invalidation.
	queryInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_query_invalidations_total",
			Help: "Total number of query cache entries invalidated",
		},
	)

	// queryDroppedWritesTotal tracks writes dropped after quota recovery failed.
	queryDroppedWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_query_dropped_writes_total",
			Help: "Total number of storage writes dropped after quota recovery failed",
		},
	)
)
