package crm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/loader"
	"github.com/diarai/diar-crm-client/pkg/logging"
	"github.com/rs/zerolog"
)

// Resource is a REST collection at /api/<name> whose list is cached under
// one cache key.
type Resource[T any] struct {
	name   string
	client *client.Client
	cache  *cache.Manager
	loader *loader.Loader[[]T]
	logger zerolog.Logger
}

// NewResource creates the resource name cached under key.
func NewResource[T any](name string, key cache.Key, c *client.Client, m *cache.Manager, opts ...loader.Option) *Resource[T] {
	r := &Resource[T]{
		name:   name,
		client: c,
		cache:  m,
		logger: logging.NewLogger("crm").With().Str("collection", name).Logger(),
	}
	r.loader = loader.New[[]T](key, m, r.List, opts...)
	return r
}

// Name returns the collection name.
func (r *Resource[T]) Name() string {
	return r.name
}

// Key returns the cache key of the collection.
func (r *Resource[T]) Key() cache.Key {
	return r.loader.Key()
}

// Path returns the collection path.
func (r *Resource[T]) Path() string {
	return "/api/" + r.name
}

func (r *Resource[T]) itemPath(id string) string {
	return r.Path() + "/" + url.PathEscape(id)
}

// Load returns the collection through the cache policy of the loader.
func (r *Resource[T]) Load(ctx context.Context, useCache bool) (loader.Result[[]T], error) {
	return r.loader.Load(ctx, useCache)
}

// LoadAny is Load with the data untyped, for callers serving several
// collections through one code path.
func (r *Resource[T]) LoadAny(ctx context.Context, useCache bool) (loader.Result[any], error) {
	result, err := r.loader.Load(ctx, useCache)
	return loader.Result[any]{
		Data:   result.Data,
		Source: result.Source,
		State:  result.State,
		Stale:  result.Stale,
		Age:    result.Age,
		Notice: result.Notice,
	}, err
}

// Warm primes the cache for the collection.
func (r *Resource[T]) Warm(ctx context.Context) error {
	return r.loader.Warm(ctx)
}

// Wait blocks until background refreshes of the collection finish.
func (r *Resource[T]) Wait() {
	r.loader.Wait()
}

// Stop ends background refreshes of the collection.
func (r *Resource[T]) Stop() {
	r.loader.Stop()
}

// List fetches the whole collection from the backend, bypassing the cache.
// A body that is not a list yields an empty slice.
func (r *Resource[T]) List(ctx context.Context) ([]T, error) {
	items, err := client.Request[[]T](ctx, r.client, r.Path(), client.Options{})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Get fetches one item.
func (r *Resource[T]) Get(ctx context.Context, id string) (T, error) {
	return client.Request[T](ctx, r.client, r.itemPath(id), client.Options{})
}

// Create adds an item and invalidates the cached list.
func (r *Resource[T]) Create(ctx context.Context, item T) (T, error) {
	created, err := client.Request[T](ctx, r.client, r.Path(), client.Options{
		Method: http.MethodPost,
		Body:   item,
	})
	if err != nil {
		return created, err
	}
	r.cache.Clear(ctx, r.Key())
	return created, nil
}

// Update changes an item and invalidates the cached list. fields may be a
// partial document.
func (r *Resource[T]) Update(ctx context.Context, id string, fields any) (T, error) {
	updated, err := client.Request[T](ctx, r.client, r.itemPath(id), client.Options{
		Method: http.MethodPut,
		Body:   fields,
	})
	if err != nil {
		return updated, err
	}
	r.cache.Clear(ctx, r.Key())
	return updated, nil
}

// Delete removes an item and invalidates the cached list.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	_, err := r.client.Do(ctx, r.itemPath(id), client.Options{Method: http.MethodDelete})
	if err != nil {
		return err
	}
	r.cache.Clear(ctx, r.Key())
	return nil
}
