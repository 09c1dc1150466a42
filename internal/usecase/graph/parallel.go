package graph

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ForEach runs fn over every input with at most limit concurrent executions.
// Results keep input order. The first error cancels the remaining work and is
// returned; already-running executions finish.
func ForEach[In, Out any](ctx context.Context, limit int64, inputs []In, fn func(ctx context.Context, in In) (Out, error)) ([]Out, error) {
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(limit)
	results := make([]Out, len(inputs))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, in := range inputs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, in In) {
			defer wg.Done()
			defer sem.Release(1)
			out, err := fn(ctx, in)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			results[i] = out
		}(i, in)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
