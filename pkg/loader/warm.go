package loader

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Warmer is a collection that can be primed ahead of use.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Warm primes several collections concurrently and returns the first error.
// A failing collection does not cancel the others.
func Warm(ctx context.Context, warmers ...Warmer) error {
	var g errgroup.Group
	for _, w := range warmers {
		g.Go(func() error {
			return w.Warm(ctx)
		})
	}
	return g.Wait()
}
