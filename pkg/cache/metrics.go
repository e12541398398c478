package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qnet_cache_hits_total",
			Help: "Total number of Q-Net cache hits",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qnet_cache_misses_total",
			Help: "Total number of Q-Net cache misses",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	// CacheExpired tracks entries evicted lazily by an expired read
	CacheExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qnet_cache_expired_total",
			Help: "Total number of cache entries evicted on expired reads",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qnet_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
