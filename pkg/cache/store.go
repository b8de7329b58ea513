package cache

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxEntryBytes is the per-entry size limit applied by every store.
const DefaultMaxEntryBytes = 5 << 20

var (
	// ErrCacheMiss indicates the requested key was not found in the store.
	ErrCacheMiss = errors.New("cache miss")

	// ErrQuotaExceeded is returned when a value is larger than the store allows.
	ErrQuotaExceeded = errors.New("cache quota exceeded")

	// ErrStoreClosed is returned by a store after Close.
	ErrStoreClosed = errors.New("cache store closed")
)

// Store is a durable string key/value store. Implementations must be safe
// for concurrent use. GetItem returns ErrCacheMiss for absent keys.
type Store interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

// checkQuota rejects values larger than limit. Stores map a configured 0 to
// DefaultMaxEntryBytes, so only a negative limit reaches here unchecked.
func checkQuota(key, value string, limit int) error {
	if limit > 0 && len(value) > limit {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(value), limit)
	}
	return nil
}
