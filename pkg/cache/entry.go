package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached payload together with the instant it was written.
type Entry[T any] struct {
	// Data is the cached payload.
	Data T `json:"data"`

	// Timestamp is the write instant in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewEntry wraps data with the given write instant.
func NewEntry[T any](data T, now time.Time) Entry[T] {
	return Entry[T]{Data: data, Timestamp: now.UnixMilli()}
}

// CachedAt returns the write instant.
func (e Entry[T]) CachedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Age returns how long ago the entry was written.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt())
}

// IsFresh reports whether the entry is within ttl at now. The boundary is
// inclusive: an entry exactly ttl old is still fresh.
func (e Entry[T]) IsFresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) <= ttl
}

// rawEntry is an entry whose payload has not been decoded yet.
type rawEntry = Entry[json.RawMessage]
