package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh reads by key.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_hits_total",
			Help: "Total number of fresh CRM cache reads",
		},
		[]string{"key"},
	)

	// CacheMisses tracks absent or expired reads by key.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_misses_total",
			Help: "Total number of CRM cache misses",
		},
		[]string{"key"},
	)

	// CacheStaleReads tracks expired entries handed out by GetStale.
	CacheStaleReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_stale_reads_total",
			Help: "Total number of expired CRM cache entries served for fallback",
		},
		[]string{"key"},
	)

	// CacheEntryBytes tracks the encoded size of the last entry written per key.
	CacheEntryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_cache_entry_bytes",
			Help: "Encoded size of the last CRM cache entry written, in bytes",
		},
		[]string{"key"},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_errors_total",
			Help: "Total number of CRM cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "decode", "encode"
	)
)
