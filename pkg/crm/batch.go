package crm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds the item requests GetMany keeps in flight.
const DefaultBatchConcurrency = 4

// GetMany fetches several items concurrently, at most concurrency at a time
// (DefaultBatchConcurrency when <= 0). Items that fail are left out of the
// map and their errors joined, so callers can use partial results.
func (r *Resource[T]) GetMany(ctx context.Context, ids []string, concurrency int) (map[string]T, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	start := time.Now()

	var (
		mu    sync.Mutex
		items = make(map[string]T)
		errs  []error
	)

	var g errgroup.Group
	g.SetLimit(concurrency)

	unique := slices.Compact(slices.Sorted(slices.Values(ids)))
	for _, id := range unique {
		g.Go(func() error {
			item, err := r.Get(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", r.name, id, err))
				return nil
			}
			items[id] = item
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Debug().
		Int("requested", len(unique)).
		Int("fetched", len(items)).
		Int("failed", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	if len(errs) > 0 {
		return items, fmt.Errorf("fetched %d of %d %s: %w", len(items), len(unique), r.name, errors.Join(errs...))
	}
	return items, nil
}
