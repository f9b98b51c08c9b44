// Package retry provides small context-aware retry helpers with exponential
// backoff (100ms, 200ms, 400ms, ...).
package retry

import (
	"context"
	"time"
)

// Do calls fn up to maxAttempts times, backing off between attempts. It
// returns the last error if all attempts fail, or ctx.Err() if the context
// is cancelled during a backoff.
func Do(ctx context.Context, maxAttempts int, fn func() error) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(100*(1<<i)) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// DoResult is like Do but for functions that return a value.
func DoResult[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(100*(1<<i)) * time.Millisecond):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}
