package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/rs/zerolog"
)

// Default manager settings.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultMaxStale = 24 * time.Hour
)

// Options configures a Manager.
type Options struct {
	// TTL is how long an entry stays fresh.
	TTL time.Duration

	// MaxStale is how long an expired entry is retained for fallback reads.
	// Zero deletes expired entries on their first read.
	MaxStale time.Duration

	// Prefix namespaces keys in the store.
	Prefix string

	// Now is the clock (default time.Now).
	Now func() time.Time
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{
		TTL:      DefaultTTL,
		MaxStale: DefaultMaxStale,
		Prefix:   DefaultPrefix,
		Now:      time.Now,
	}
}

// Manager is the TTL read-through cache. It is safe for concurrent use: every
// read-evaluate-delete sequence runs under one lock, so it cannot interleave
// with a Set of the same key. Manager methods never return errors; store and
// encoding failures are logged, counted and reported as absent.
type Manager struct {
	mu       sync.Mutex
	store    Store
	ttl      time.Duration
	maxStale time.Duration
	prefix   string
	now      func() time.Time
	known    map[Key]struct{}
	logger   zerolog.Logger
}

// NewManager creates a cache manager over store. Zero option values fall back
// to the defaults, except MaxStale where zero is meaningful.
func NewManager(store Store, opts Options) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxStale < 0 {
		opts.MaxStale = 0
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	known := make(map[Key]struct{})
	for _, key := range AllKeys() {
		known[key] = struct{}{}
	}

	return &Manager{
		store:    store,
		ttl:      opts.TTL,
		maxStale: opts.MaxStale,
		prefix:   opts.Prefix,
		now:      opts.Now,
		known:    known,
		logger:   logging.NewLogger("cache"),
	}
}

// TTL returns the freshness window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// MaxStale returns the retention window for expired entries.
func (m *Manager) MaxStale() time.Duration {
	return m.maxStale
}

// Set stores data under key with the current time, replacing any previous entry.
// When the new entry cannot be encoded or written the previous one is removed,
// so readers see a miss rather than data older than the last fetch.
func (m *Manager) Set(ctx context.Context, key Key, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	encoded, err := json.Marshal(NewEntry(data, m.now()))
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to encode cache entry")
		m.remove(ctx, key)
		return
	}

	m.known[key] = struct{}{}
	if err := m.store.SetItem(ctx, key.StorageKey(m.prefix), string(encoded)); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to write cache entry")
		m.remove(ctx, key)
		return
	}

	CacheEntryBytes.WithLabelValues(key.String()).Set(float64(len(encoded)))
	m.logger.Debug().
		Str("key", key.String()).
		Int("bytes", len(encoded)).
		Dur("ttl", m.ttl).
		Msg("Cache entry written")
}

// Get decodes the fresh entry under key into dst. It reports false when the
// entry was never written, has expired, or cannot be decoded.
func (m *Manager) Get(ctx context.Context, key Key, dst any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.load(ctx, key)
	if !ok {
		CacheMisses.WithLabelValues(key.String()).Inc()
		return false
	}

	now := m.now()
	if !entry.IsFresh(now, m.ttl) {
		m.evictIfBeyondRetention(ctx, key, entry, now)
		CacheMisses.WithLabelValues(key.String()).Inc()
		m.logger.Debug().
			Str("key", key.String()).
			Dur("age", entry.Age(now)).
			Msg("Cache entry expired")
		return false
	}

	if !m.decode(ctx, key, entry, dst) {
		CacheMisses.WithLabelValues(key.String()).Inc()
		return false
	}

	CacheHits.WithLabelValues(key.String()).Inc()
	m.logger.Debug().Str("key", key.String()).Msg("Cache hit")
	return true
}

// GetStale decodes the entry under key into dst as long as it is within
// TTL+MaxStale, fresh or not, and returns its age. Entries beyond that window
// are deleted.
func (m *Manager) GetStale(ctx context.Context, key Key, dst any) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.load(ctx, key)
	if !ok {
		return 0, false
	}

	now := m.now()
	if m.evictIfBeyondRetention(ctx, key, entry, now) {
		return 0, false
	}
	if !m.decode(ctx, key, entry, dst) {
		return 0, false
	}

	age := entry.Age(now)
	if age > m.ttl {
		CacheStaleReads.WithLabelValues(key.String()).Inc()
	}
	return age, true
}

// IsValid reports whether a fresh entry exists under key, without decoding
// the payload.
func (m *Manager) IsValid(ctx context.Context, key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.load(ctx, key)
	if !ok {
		return false
	}
	return entry.IsFresh(m.now(), m.ttl)
}

// Clear removes the entry under key. Clearing an absent key is a no-op.
func (m *Manager) Clear(ctx context.Context, key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remove(ctx, key)
}

// ClearAll removes the CRM collections and every key written through m.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.known {
		m.remove(ctx, key)
	}
	m.logger.Debug().Int("keys", len(m.known)).Msg("Cache cleared")
}

// load reads and parses the raw entry. Corrupt entries are removed.
func (m *Manager) load(ctx context.Context, key Key) (rawEntry, bool) {
	value, err := m.store.GetItem(ctx, key.StorageKey(m.prefix))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to read cache entry")
		}
		return rawEntry{}, false
	}

	var entry rawEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil || entry.Timestamp == 0 {
		CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Discarding corrupt cache entry")
		m.remove(ctx, key)
		return rawEntry{}, false
	}
	return entry, true
}

func (m *Manager) decode(ctx context.Context, key Key, entry rawEntry, dst any) bool {
	if err := json.Unmarshal(entry.Data, dst); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to decode cached payload")
		return false
	}
	return true
}

// evictIfBeyondRetention deletes entry when it is older than TTL+MaxStale.
func (m *Manager) evictIfBeyondRetention(ctx context.Context, key Key, entry rawEntry, now time.Time) bool {
	if entry.Age(now) <= m.ttl+m.maxStale {
		return false
	}
	m.remove(ctx, key)
	return true
}

func (m *Manager) remove(ctx context.Context, key Key) {
	if err := m.store.RemoveItem(ctx, key.StorageKey(m.prefix)); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to remove cache entry")
	}
}

// Get returns the fresh payload under key decoded as T.
func Get[T any](ctx context.Context, m *Manager, key Key) (T, bool) {
	var out T
	if !m.Get(ctx, key, &out) {
		var zero T
		return zero, false
	}
	return out, true
}

// GetStale returns the payload under key decoded as T if it is within
// TTL+MaxStale, along with its age.
func GetStale[T any](ctx context.Context, m *Manager, key Key) (T, time.Duration, bool) {
	var out T
	age, ok := m.GetStale(ctx, key, &out)
	if !ok {
		var zero T
		return zero, 0, false
	}
	return out, age, true
}
