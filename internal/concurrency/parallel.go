// Package concurrency provides the fixed-size worker pool used for the
// parallel partition phase. Workers share no mutable state: each task reads
// one input file and writes one private output file, so the pool needs no
// coordination beyond fan-out and join.
package concurrency

import (
	"context"
	"sync"
)

// ParallelOptions configures the pool.
type ParallelOptions struct {
	// MaxWorkers is the pool size. Values <= 0 fall back to the default.
	MaxWorkers int
}

// DefaultOptions sizes the pool for the usual drop-server exports: four
// workers, one partition file per task.
func DefaultOptions() ParallelOptions {
	return ParallelOptions{MaxWorkers: 4}
}

// ProcessParallel runs itemFunc for every item and returns the results in
// input order along with any errors. A failed item does not stop the rest
// of the batch; the caller decides whether collected errors are fatal.
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultOptions().MaxWorkers
	}
	if maxWorkers > len(items) {
		maxWorkers = len(items)
	}

	jobs := make(chan int, len(items))
	results := make(chan struct {
		index  int
		result R
		err    error
	}, len(items))

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobIndex := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
					result, err := itemFunc(ctx, jobIndex, items[jobIndex])
					results <- struct {
						index  int
						result R
						err    error
					}{jobIndex, result, err}
				}
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	resultList := make([]R, len(items))
	var errors []error
	for range items {
		res, ok := <-results
		if !ok {
			break
		}
		if res.err != nil {
			errors = append(errors, res.err)
		}
		resultList[res.index] = res.result
	}

	return resultList, errors
}

// ForEach runs a function for every item in parallel without collecting
// results. Used when only side effects matter (writing partition outputs).
func ForEach[T any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) error,
) []error {
	_, errs := ProcessParallel(ctx, items, opts, func(ctx context.Context, index int, item T) (struct{}, error) {
		return struct{}{}, itemFunc(ctx, index, item)
	})
	return errs
}
