package engine

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// withRateLimitRetry calls fn until it succeeds, fails with a non rate-limit
// error, or maxRetries attempts were made. Backoff doubles from initialBackoff.
func withRateLimitRetry[T any](ctx context.Context, isRateLimit func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := range maxRetries {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isRateLimit(err) {
			return zero, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return zero, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}
