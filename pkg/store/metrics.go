package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeCommandsTotal tracks all store commands by operation.
	storeCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachekit_store_commands_total",
			Help: "Total number of backing store commands by operation",
		},
		[]string{"operation"},
	)

	// storeHitsTotal tracks read hits across both backends.
	storeHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_store_hits_total",
			Help: "Total number of backing store read hits",
		},
	)

	// storeMissesTotal tracks read misses.
	storeMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_store_misses_total",
			Help: "Total number of backing store read misses",
		},
	)

	// storeErrorsTotal tracks remote command failures by operation.
	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachekit_store_errors_total",
			Help: "Total number of backing store command errors by operation",
		},
		[]string{"operation"},
	)

	// storeFallbackOpsTotal tracks operations served by the in-process map.
	storeFallbackOpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_store_fallback_ops_total",
			Help: "Total number of operations served by the in-process fallback",
		},
	)

	// storeCommandDuration tracks command latency by operation.
	storeCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cachekit_store_command_duration_seconds",
			Help:    "Backing store command duration in seconds by operation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)
)
