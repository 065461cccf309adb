package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxBatchSize is the most values bound into a single IN / ANY statement.
const MaxBatchSize = 1000

// ErrBatchLimit reports a statement built with more than MaxBatchSize values.
// forEachBatch never produces one.
var ErrBatchLimit = errors.New("store: batch exceeds MaxBatchSize")

// forEachBatch calls fn with consecutive chunks of items, each at most size
// long. It stops at the first error or when ctx is done.
func forEachBatch[T any](ctx context.Context, items []T, size int, fn func(chunk []T) error) error {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(items))
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns "?,?,…" for n SQLite parameters.
func placeholders(n int) (string, error) {
	if n > MaxBatchSize {
		return "", fmt.Errorf("%w: %d values", ErrBatchLimit, n)
	}
	if n <= 0 {
		return "", fmt.Errorf("store: empty batch")
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ","), nil
}

// anyArgs converts a string slice to driver args.
func anyArgs(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
