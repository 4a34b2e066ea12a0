package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHitsTotal tracks cache hits by tier (local, remote).
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiercache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// cacheMissesTotal tracks full cache misses (both tiers).
	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiercache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// cacheErrorsTotal tracks orchestrator-level operation errors.
	cacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiercache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"},
	)

	// cacheFailOpenTotal tracks reads degraded to a miss by an error.
	cacheFailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiercache_fail_open_total",
			Help: "Total number of read operations degraded to a miss due to an error",
		},
		[]string{"reason"}, // "key", "tier", "decode"
	)
)
