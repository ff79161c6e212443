package concurrency

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
)

func TestProcessParallelPreservesOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	results, errs := ProcessParallel(context.Background(), items, ParallelOptions{MaxWorkers: 3},
		func(ctx context.Context, index int, item int) (string, error) {
			return strconv.Itoa(item * 2), nil
		})
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	if len(results) != len(items) {
		t.Fatalf("Expected %d results, got %d", len(items), len(results))
	}
	for i, item := range items {
		if results[i] != strconv.Itoa(item*2) {
			t.Errorf("Expected results[%d] = %q, got %q", i, strconv.Itoa(item*2), results[i])
		}
	}
}

func TestProcessParallelCollectsErrors(t *testing.T) {
	items := []int{1, 2, 3, 4}
	failed := errors.New("boom")
	results, errs := ProcessParallel(context.Background(), items, DefaultOptions(),
		func(ctx context.Context, index int, item int) (int, error) {
			if item%2 == 0 {
				return 0, failed
			}
			return item, nil
		})
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errs))
	}
	// A failed item does not stop the rest of the batch.
	if results[0] != 1 || results[2] != 3 {
		t.Errorf("Expected successful items to keep their results, got %v", results)
	}
}

func TestProcessParallelEmptyInput(t *testing.T) {
	results, errs := ProcessParallel(context.Background(), []int{}, DefaultOptions(),
		func(ctx context.Context, index int, item int) (int, error) {
			return item, nil
		})
	if len(results) != 0 || len(errs) != 0 {
		t.Errorf("Expected empty results and errors, got %v, %v", results, errs)
	}
}

func TestForEach(t *testing.T) {
	var calls atomic.Int64
	items := []string{"a", "b", "c"}
	errs := ForEach(context.Background(), items, ParallelOptions{MaxWorkers: 2},
		func(ctx context.Context, index int, item string) error {
			calls.Add(1)
			return nil
		})
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	if calls.Load() != int64(len(items)) {
		t.Errorf("Expected %d calls, got %d", len(items), calls.Load())
	}
}
