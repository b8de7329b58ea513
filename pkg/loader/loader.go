// Package loader implements the stale-while-revalidate policy used to load
// CRM collections.
//
// A Loader serves a fresh cache hit immediately and refreshes it in the
// background. On a miss it fetches through the network and populates the
// cache. When that fetch fails with a transient error (network, 5xx,
// rate limit) it falls back to the last cached copy, if one is still
// retained, and attaches a notice so the caller can tell the user.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	loadResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_loader_results_total",
		Help: "Total loader results by key and source",
	}, []string{"key", "source"})

	refreshOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_loader_refresh_total",
		Help: "Total background refreshes by key and outcome",
	}, []string{"key", "outcome"})
)

// Source tells where the data of a Result came from.
type Source string

const (
	SourceCache      Source = "cache"
	SourceNetwork    Source = "network"
	SourceStaleCache Source = "stale_cache"
)

// State is the outcome of a load.
type State string

const (
	StatePopulated            State = "populated"
	StateFallbackToStaleCache State = "fallback_to_stale_cache"
	StateErrored              State = "errored"
)

// Notices attached to stale results.
const (
	NoticeServerUnreachable = "using cached data, server unreachable"
	NoticeServerError       = "using cached data, server error"
)

// Result is the data produced by a load.
type Result[T any] struct {
	Data   T
	Source Source
	State  State

	// Stale is set when Data is an expired cache entry served because the
	// backend could not be reached.
	Stale bool

	// Age is the age of the cache entry for cache sources.
	Age time.Duration

	// Notice is a human-readable advisory, set for stale results.
	Notice string
}

// RefreshOutcome reports how a background refresh ended.
type RefreshOutcome string

const (
	RefreshUpdated RefreshOutcome = "updated"
	RefreshFailed  RefreshOutcome = "failed"
)

// RefreshEvent is passed to the OnRefresh hook after a background refresh.
type RefreshEvent struct {
	Key     cache.Key
	Outcome RefreshOutcome
	Err     error
}

// Fetcher retrieves a collection from the backend.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Option configures a Loader.
type Option func(*options)

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// context of the caller that started it. It covers a full retry sequence of
// the default client configuration.
const DefaultFetchTimeout = 3 * time.Minute

type options struct {
	onRefresh    func(RefreshEvent)
	fetchTimeout time.Duration
}

// WithOnRefresh registers a hook called after every background refresh.
func WithOnRefresh(fn func(RefreshEvent)) Option {
	return func(o *options) {
		o.onRefresh = fn
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// Loader loads one cached collection.
type Loader[T any] struct {
	key       cache.Key
	cache     *cache.Manager
	fetch     Fetcher[T]
	onRefresh func(RefreshEvent)
	timeout   time.Duration
	group     singleflight.Group
	logger    zerolog.Logger

	mu      sync.Mutex // guards stopped and wg.Add
	stopped bool
	wg      sync.WaitGroup
}

// New creates a loader for key.
func New[T any](key cache.Key, manager *cache.Manager, fetch Fetcher[T], opts ...Option) *Loader[T] {
	if manager == nil {
		panic("cache manager cannot be nil")
	}
	if fetch == nil {
		panic("fetcher cannot be nil")
	}

	o := options{fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	return &Loader[T]{
		key:       key,
		cache:     manager,
		fetch:     fetch,
		onRefresh: o.onRefresh,
		timeout:   o.fetchTimeout,
		logger:    logging.NewLogger("loader").With().Str("key", key.String()).Logger(),
	}
}

// Key returns the cache key of the collection.
func (l *Loader[T]) Key() cache.Key {
	return l.key
}

// Load returns the collection.
//
// With useCache set, a fresh cache entry is returned at once and refreshed in
// the background; the refresh outlives ctx. Otherwise, or on a miss, the
// collection is fetched and written to the cache. A failed fetch falls back
// to a retained stale entry when client.ShouldFallback allows it; in every
// other case the classified error is returned.
func (l *Loader[T]) Load(ctx context.Context, useCache bool) (Result[T], error) {
	if useCache {
		var cached T
		if l.cache.Get(ctx, l.key, &cached) {
			l.refreshInBackground(ctx)
			loadResults.WithLabelValues(l.key.String(), string(SourceCache)).Inc()
			return Result[T]{
				Data:   cached,
				Source: SourceCache,
				State:  StatePopulated,
			}, nil
		}
	}

	data, err := l.fetchShared(ctx)
	if err == nil {
		loadResults.WithLabelValues(l.key.String(), string(SourceNetwork)).Inc()
		return Result[T]{
			Data:   data,
			Source: SourceNetwork,
			State:  StatePopulated,
		}, nil
	}

	if client.ShouldFallback(err) {
		var stale T
		if age, ok := l.cache.GetStale(ctx, l.key, &stale); ok {
			notice := noticeFor(err)
			l.logger.Warn().
				Err(err).
				Dur("age", age).
				Str("notice", notice).
				Msg("Serving stale cache after failed fetch")
			loadResults.WithLabelValues(l.key.String(), string(SourceStaleCache)).Inc()
			return Result[T]{
				Data:   stale,
				Source: SourceStaleCache,
				State:  StateFallbackToStaleCache,
				Stale:  true,
				Age:    age,
				Notice: notice,
			}, nil
		}
	}

	l.logger.Error().
		Err(err).
		Str("error_class", string(client.ClassOf(err))).
		Msg("Failed to load collection")
	loadResults.WithLabelValues(l.key.String(), string(StateErrored)).Inc()
	return Result[T]{State: StateErrored}, err
}

// Warm loads the collection through the cache, discarding the result.
func (l *Loader[T]) Warm(ctx context.Context) error {
	_, err := l.Load(ctx, true)
	return err
}

// Wait blocks until every background refresh started so far has finished.
// Loads running concurrently with Wait may still start new refreshes; use
// Stop at shutdown.
func (l *Loader[T]) Wait() {
	l.wg.Wait()
}

// Stop prevents further background refreshes and waits for the running ones.
// Loads keep working after Stop; a cache hit is just no longer refreshed.
func (l *Loader[T]) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	l.wg.Wait()
}

// fetchShared fetches and caches the collection. Concurrent calls share one
// fetch, which runs detached from every caller and is bounded by the fetch
// timeout. A caller whose ctx ends stops waiting without failing the others.
func (l *Loader[T]) fetchShared(ctx context.Context) (T, error) {
	ch := l.group.DoChan(l.key.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		data, err := l.fetch(fetchCtx)
		if err != nil {
			return data, err
		}
		l.cache.Set(fetchCtx, l.key, data)
		return data, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, &client.APIError{
			ErrorClass: client.ErrorClassCanceled,
			Message:    "load cancelled",
			Err:        fmt.Errorf("%w: %v", client.ErrContextCancelled, ctx.Err()),
		}
	case res := <-ch:
		if res.Shared {
			l.logger.Debug().Msg("Joined in-flight fetch")
		}
		data, _ := res.Val.(T)
		return data, res.Err
	}
}

func (l *Loader[T]) refreshInBackground(ctx context.Context) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	refreshCtx := context.WithoutCancel(ctx)
	go func() {
		defer l.wg.Done()

		event := RefreshEvent{Key: l.key, Outcome: RefreshUpdated}
		if _, err := l.fetchShared(refreshCtx); err != nil {
			event.Outcome = RefreshFailed
			event.Err = err
			l.logger.Warn().Err(err).Msg("Background refresh failed, keeping cached data")
		} else {
			l.logger.Debug().Msg("Background refresh updated cache")
		}

		refreshOutcomes.WithLabelValues(l.key.String(), string(event.Outcome)).Inc()
		if l.onRefresh != nil {
			l.onRefresh(event)
		}
	}()
}

func noticeFor(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.IsNetworkError() {
		return NoticeServerUnreachable
	}
	return NoticeServerError
}
