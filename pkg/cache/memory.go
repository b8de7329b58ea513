package cache

import (
	"context"
	"sync/atomic"

	"github.com/maypok86/otter/v2"
)

// MemoryStoreOptions configures a MemoryStore.
type MemoryStoreOptions struct {
	// MaximumSize bounds the number of entries held (default 1000).
	MaximumSize int

	// MaxEntryBytes is the per-entry size limit. 0 selects
	// DefaultMaxEntryBytes, a negative value disables the limit.
	MaxEntryBytes int
}

// MemoryStore is a bounded in-process Store backed by otter. Entries do not
// expire on their own; freshness is decided by the Manager.
type MemoryStore struct {
	cache         *otter.Cache[string, string]
	maxEntryBytes int
	closed        atomic.Bool
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts MemoryStoreOptions) *MemoryStore {
	if opts.MaximumSize <= 0 {
		opts.MaximumSize = 1000
	}
	if opts.MaxEntryBytes == 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}

	return &MemoryStore{
		cache: otter.Must(&otter.Options[string, string]{
			MaximumSize: opts.MaximumSize,
		}),
		maxEntryBytes: opts.MaxEntryBytes,
	}
}

// GetItem implements Store.
func (s *MemoryStore) GetItem(_ context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", ErrStoreClosed
	}
	value, ok := s.cache.GetIfPresent(key)
	if !ok {
		return "", ErrCacheMiss
	}
	return value, nil
}

// SetItem implements Store.
func (s *MemoryStore) SetItem(_ context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := checkQuota(key, value, s.maxEntryBytes); err != nil {
		return err
	}
	s.cache.Set(key, value)
	return nil
}

// RemoveItem implements Store.
func (s *MemoryStore) RemoveItem(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	s.cache.Invalidate(key)
	return nil
}

// Close drops every entry. Further calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cache.InvalidateAll()
	return nil
}
