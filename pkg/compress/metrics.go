package compress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// compressionsTotal tracks compression attempts by algorithm and outcome.
	compressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachekit_compressions_total",
			Help: "Total number of compression attempts by algorithm and outcome",
		},
		[]string{"algorithm", "outcome"}, // "compressed", "skipped", "not_worth_it", "error"
	)

	// bytesSavedTotal tracks bytes saved by kept compressions.
	bytesSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cachekit_compression_bytes_saved_total",
			Help: "Total bytes saved by compression",
		},
	)

	// decompressionErrorsTotal tracks decompression failures by algorithm.
	decompressionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachekit_decompression_errors_total",
			Help: "Total number of decompression failures by algorithm",
		},
		[]string{"algorithm"},
	)
)
