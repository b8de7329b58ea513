package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lead struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var (
	leadsAB = []lead{{ID: "a", Name: "Anna"}, {ID: "b", Name: "Boris"}}
	leadsC  = []lead{{ID: "c", Name: "Chen"}}

	errNetwork = &client.APIError{ErrorClass: client.ErrorClassNetwork, Message: "unable to connect to the server"}
	errServer  = &client.APIError{StatusCode: 503, ErrorClass: client.ErrorClassServer, Message: "Service unavailable"}
	errClient  = &client.APIError{StatusCode: 404, ErrorClass: client.ErrorClassClient, Message: "not found"}
	errAuth    = &client.APIError{StatusCode: 401, ErrorClass: client.ErrorClassAuth, Message: "access token not found, please sign in"}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFetcher returns a programmable result and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	data  []lead
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) fetch(context.Context) ([]lead, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.err
}

func newManager(maxStale time.Duration) (*cache.Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	opts := cache.DefaultOptions()
	opts.MaxStale = maxStale
	opts.Now = clock.Now
	return cache.NewManager(cache.NewMemoryStore(cache.MemoryStoreOptions{}), opts), clock
}

func TestLoad_MissFetchesAndPopulates(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	fetcher := &fakeFetcher{data: leadsAB}
	l := New(cache.KeyLeads, m, fetcher.fetch)

	result, err := l.Load(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, leadsAB, result.Data)
	assert.Equal(t, SourceNetwork, result.Source)
	assert.Equal(t, StatePopulated, result.State)
	assert.False(t, result.Stale)

	cached, ok := cache.Get[[]lead](context.Background(), m, cache.KeyLeads)
	require.True(t, ok)
	assert.Equal(t, leadsAB, cached)
}

func TestLoad_HitServesCacheAndRefreshes(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	ctx := context.Background()
	m.Set(ctx, cache.KeyLeads, leadsAB)

	var events []RefreshEvent
	fetcher := &fakeFetcher{data: leadsC}
	l := New(cache.KeyLeads, m, fetcher.fetch, WithOnRefresh(func(e RefreshEvent) {
		events = append(events, e)
	}))

	result, err := l.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, leadsAB, result.Data, "the cached copy is returned first")
	assert.Equal(t, SourceCache, result.Source)

	l.Wait()

	require.Len(t, events, 1)
	assert.Equal(t, RefreshUpdated, events[0].Outcome)
	assert.Equal(t, cache.KeyLeads, events[0].Key)

	cached, ok := cache.Get[[]lead](ctx, m, cache.KeyLeads)
	require.True(t, ok)
	assert.Equal(t, leadsC, cached, "the refresh overwrites the cache")
}

func TestLoad_FailedRefreshKeepsCache(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	ctx := context.Background()
	m.Set(ctx, cache.KeyLeads, leadsAB)

	var events []RefreshEvent
	fetcher := &fakeFetcher{err: errServer}
	l := New(cache.KeyLeads, m, fetcher.fetch, WithOnRefresh(func(e RefreshEvent) {
		events = append(events, e)
	}))

	result, err := l.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, leadsAB, result.Data)

	l.Wait()

	require.Len(t, events, 1)
	assert.Equal(t, RefreshFailed, events[0].Outcome)
	assert.ErrorIs(t, events[0].Err, errServer)

	cached, ok := cache.Get[[]lead](ctx, m, cache.KeyLeads)
	require.True(t, ok)
	assert.Equal(t, leadsAB, cached)
}

func TestLoad_RefreshOutlivesCaller(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	m.Set(context.Background(), cache.KeyDeals, leadsAB)

	var refreshErr error
	l := New(cache.KeyDeals, m, func(ctx context.Context) ([]lead, error) {
		time.Sleep(20 * time.Millisecond)
		refreshErr = ctx.Err()
		return leadsC, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Load(ctx, true)
	require.NoError(t, err)
	cancel()

	l.Wait()
	assert.NoError(t, refreshErr)
}

func TestLoad_BypassCache(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	ctx := context.Background()
	m.Set(ctx, cache.KeyLeads, leadsAB)

	fetcher := &fakeFetcher{data: leadsC}
	l := New(cache.KeyLeads, m, fetcher.fetch)

	result, err := l.Load(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, leadsC, result.Data)
	assert.Equal(t, SourceNetwork, result.Source)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

// Leads [A, B] cached at t0; at t0+10min the network is down.
func TestLoad_StaleFallbackScenario(t *testing.T) {
	t.Run("default retention serves stale data", func(t *testing.T) {
		m, clock := newManager(cache.DefaultMaxStale)
		ctx := context.Background()
		m.Set(ctx, cache.KeyLeads, leadsAB)
		clock.Advance(10 * time.Minute)

		l := New(cache.KeyLeads, m, (&fakeFetcher{err: errNetwork}).fetch)

		result, err := l.Load(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, leadsAB, result.Data)
		assert.Equal(t, SourceStaleCache, result.Source)
		assert.Equal(t, StateFallbackToStaleCache, result.State)
		assert.True(t, result.Stale)
		assert.Equal(t, 10*time.Minute, result.Age)
		assert.Equal(t, NoticeServerUnreachable, result.Notice)
	})

	t.Run("strict ttl surfaces the network error", func(t *testing.T) {
		m, clock := newManager(0)
		ctx := context.Background()
		m.Set(ctx, cache.KeyLeads, leadsAB)
		clock.Advance(10 * time.Minute)

		l := New(cache.KeyLeads, m, (&fakeFetcher{err: errNetwork}).fetch)

		result, err := l.Load(ctx, true)
		require.Error(t, err)
		assert.Equal(t, client.ErrorClassNetwork, client.ClassOf(err))
		assert.Equal(t, StateErrored, result.State)
		assert.Nil(t, result.Data)
	})
}

func TestLoad_FallbackPolicy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStale  bool
		wantNotice string
	}{
		{name: "network", err: errNetwork, wantStale: true, wantNotice: NoticeServerUnreachable},
		{name: "server", err: errServer, wantStale: true, wantNotice: NoticeServerError},
		{name: "rate limit", err: &client.APIError{StatusCode: 429, ErrorClass: client.ErrorClassRateLimit}, wantStale: true, wantNotice: NoticeServerError},
		{name: "exhausted", err: &client.APIError{ErrorClass: client.ErrorClassExhausted, Err: client.ErrRetryExhausted}, wantStale: true, wantNotice: NoticeServerError},
		{name: "client", err: errClient},
		{name: "auth", err: errAuth},
		{name: "unclassified", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newManager(cache.DefaultMaxStale)
			ctx := context.Background()
			m.Set(ctx, cache.KeyTasks, leadsAB)
			clock.Advance(time.Hour)

			l := New(cache.KeyTasks, m, (&fakeFetcher{err: tt.err}).fetch)
			result, err := l.Load(ctx, true)

			if !tt.wantStale {
				assert.ErrorIs(t, err, tt.err)
				assert.Equal(t, StateErrored, result.State)
				return
			}
			require.NoError(t, err)
			assert.True(t, result.Stale)
			assert.Equal(t, tt.wantNotice, result.Notice)
			assert.Equal(t, leadsAB, result.Data)
		})
	}
}

func TestLoad_NoCacheNoFallback(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)

	l := New(cache.KeyCampaigns, m, (&fakeFetcher{err: errServer}).fetch)
	result, err := l.Load(context.Background(), true)

	assert.ErrorIs(t, err, errServer)
	assert.Equal(t, StateErrored, result.State)
}

func TestLoad_ConcurrentFetchesAreCollapsed(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)

	release := make(chan struct{})
	var calls atomic.Int32
	l := New(cache.KeyLeads, m, func(context.Context) ([]lead, error) {
		calls.Add(1)
		<-release
		return leadsAB, nil
	})

	const callers = 5
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make([]Result[[]lead], callers)
	for i := range callers {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results[i], _ = l.Load(context.Background(), false)
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, leadsAB, r.Data)
	}
}

func TestLoad_CancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)

	started := make(chan struct{})
	release := make(chan struct{})
	fetchErr := make(chan error, 1)
	var calls atomic.Int32
	l := New(cache.KeyLeads, m, func(ctx context.Context) ([]lead, error) {
		calls.Add(1)
		close(started)
		<-release
		fetchErr <- ctx.Err()
		return leadsAB, nil
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := l.Load(ctxA, false)
		errA <- err
	}()
	<-started

	type outcome struct {
		result Result[[]lead]
		err    error
	}
	doneB := make(chan outcome, 1)
	go func() {
		result, err := l.Load(context.Background(), false)
		doneB <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	err := <-errA
	require.Error(t, err)
	assert.Equal(t, client.ErrorClassCanceled, client.ClassOf(err))
	assert.ErrorIs(t, err, client.ErrContextCancelled)

	close(release)
	b := <-doneB
	require.NoError(t, b.err)
	assert.Equal(t, leadsAB, b.result.Data)
	assert.Equal(t, SourceNetwork, b.result.Source)

	assert.NoError(t, <-fetchErr, "the shared fetch does not follow the first caller")
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, m.IsValid(context.Background(), cache.KeyLeads))
}

func TestLoad_FetchTimeoutBoundsSharedFetch(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	l := New(cache.KeyLeads, m, func(ctx context.Context) ([]lead, error) {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		return leadsAB, nil
	}, WithFetchTimeout(time.Second))

	_, err := l.Load(context.Background(), false)
	require.NoError(t, err)
}

func TestStop_EndsBackgroundRefreshes(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	fetcher := &fakeFetcher{data: leadsAB}
	l := New(cache.KeyLeads, m, fetcher.fetch)
	ctx := context.Background()

	_, err := l.Load(ctx, true)
	require.NoError(t, err)

	l.Stop()

	result, err := l.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, result.Source, "loads keep working after Stop")
	l.Wait()
	assert.Equal(t, int32(1), fetcher.calls.Load(), "no refresh starts after Stop")
}

func TestWarm(t *testing.T) {
	m, _ := newManager(cache.DefaultMaxStale)
	ctx := context.Background()

	leads := New(cache.KeyLeads, m, (&fakeFetcher{data: leadsAB}).fetch)
	deals := New(cache.KeyDeals, m, (&fakeFetcher{err: errClient}).fetch)
	tasks := New(cache.KeyTasks, m, (&fakeFetcher{data: leadsC}).fetch)

	err := Warm(ctx, leads, deals, tasks)
	assert.ErrorIs(t, err, errClient)

	assert.True(t, m.IsValid(ctx, cache.KeyLeads))
	assert.True(t, m.IsValid(ctx, cache.KeyTasks), "one failure does not stop the others")
	assert.False(t, m.IsValid(ctx, cache.KeyDeals))

	require.NoError(t, Warm(ctx, leads, tasks))
	leads.Wait()
	tasks.Wait()
}

func TestNew_Panics(t *testing.T) {
	m, _ := newManager(0)
	assert.Panics(t, func() { New[[]lead](cache.KeyLeads, nil, (&fakeFetcher{}).fetch) })
	assert.Panics(t, func() { New[[]lead](cache.KeyLeads, m, nil) })
}
