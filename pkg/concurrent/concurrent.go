package concurrent

import (
	"context"

	"github.com/zeusync/prefabkit/pkg/sequence"
	"golang.org/x/sync/errgroup"
)

// Concurrent runs action for each element of the iterator in its own goroutine and waits
// for all of them. The first error is returned.
func Concurrent[T any](i *sequence.Iterator[T], action func(T) error) error {
	errGroup := errgroup.Group{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		errGroup.Go(func() error {
			return action(value)
		})
	}

	return errGroup.Wait()
}

// ParallelMap applies mapFn to every element with at most workers goroutines, preserving
// input order in the result. The context passed to mapFn is cancelled on the first error.
func ParallelMap[T any, R any](ctx context.Context, i *sequence.Iterator[T], workers int, mapFn func(context.Context, T) (R, error)) ([]R, error) {
	in := i.Collect()
	out := make([]R, len(in))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for idx, value := range in {
		g.Go(func() error {
			r, err := mapFn(gctx, value)
			if err != nil {
				return err
			}
			out[idx] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
