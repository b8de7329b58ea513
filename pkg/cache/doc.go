// Package cache provides the TTL read-through cache used by the CRM loaders.
//
// Every entry is a JSON document holding the payload and the instant it was
// written. An entry is fresh while its age is within the manager TTL
// (5 minutes by default). Expiration is lazy: entries are evaluated when they
// are read and there is no background sweep.
//
// Expired entries are kept for a bounded stale window (MaxStale, 24 hours by
// default) so that a loader can still serve them when the backend is down.
// Once an entry is older than TTL+MaxStale it is deleted on the next read.
// With MaxStale set to zero an expired entry is deleted on its first read.
//
// # Basic Usage
//
//	store := cache.NewMemoryStore(cache.MemoryStoreOptions{MaximumSize: 1000})
//	manager := cache.NewManager(store, cache.DefaultOptions())
//
//	manager.Set(ctx, cache.KeyLeads, leads)
//
//	if cached, ok := cache.Get[[]crm.Lead](ctx, manager, cache.KeyLeads); ok {
//		// fresh hit
//	}
//
// # Stores
//
// The manager persists entries through a Store, a string key/value store with
// a per-entry size limit:
//
//   - MemoryStore: bounded in-process store backed by otter
//   - FileStore: one file per key, atomic writes, cross-process file lock
//   - RedisStore: shared store backed by go-redis
//
// Store failures never reach callers of the manager. They are logged and
// counted, and a failed read is reported as absent.
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - crm_cache_hits_total{key} - Fresh reads
//   - crm_cache_misses_total{key} - Absent or expired reads
//   - crm_cache_stale_reads_total{key} - Expired entries served through GetStale
//   - crm_cache_entry_bytes{key} - Size of the last written entry
//   - crm_cache_errors_total{operation} - Store and encoding failures
package cache
