package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for amount cache operations.
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bill_cache_hits_total",
		Help: "Total amount cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bill_cache_misses_total",
		Help: "Total amount cache misses",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_cache_errors_total",
		Help: "Total amount cache errors by operation",
	}, []string{"operation"})
)
