package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHitsTotal tracks cache hits by tier (l1, edge, store).
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachekit_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// cacheMissesTotal tracks misses across all tiers.
	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// cacheSetsTotal tracks write-through sets.
	cacheSetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_sets_total",
			Help: "Total number of cache sets",
		},
	)

	// cacheDeletesTotal tracks deletes.
	cacheDeletesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_deletes_total",
			Help: "Total number of cache deletes",
		},
	)

	// cacheEvictionsTotal tracks physical evictions from memory tiers.
	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_evictions_total",
			Help: "Total number of entries evicted from memory tiers",
		},
	)

	// cacheInvalidationsTotal tracks tag-based invalidations.
	cacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_invalidations_total",
			Help: "Total number of entries removed by tag invalidation",
		},
	)

	// prefetchQueuedTotal tracks prefetch predictions enqueued.
	prefetchQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_prefetch_queued_total",
			Help: "Total number of prefetch predictions enqueued",
		},
	)

	// prefetchLoadsTotal tracks prefetch loads served by the loader.
	prefetchLoadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_prefetch_loads_total",
			Help: "Total number of prefetched keys loaded from the data source",
		},
	)

	// prefetchFailuresTotal tracks prefetch loader failures.
	prefetchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_prefetch_failures_total",
			Help: "Total number of prefetch loader failures",
		},
	)

	// cacheHitRate is the rolling hit rate emitted by the metrics worker.
	cacheHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cachekit_hit_rate",
			Help: "Rolling cache hit rate",
		},
	)

	// cacheResponseTime is the rolling average operation time.
	cacheResponseTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cachekit_response_time_seconds",
			Help: "Exponential moving average of cache operation time",
		},
	)
)
