package reasoning

import (
	"context"
	"time"
)

// RetryConfig bounds the retry loop around one reasoning call. Delays are
// consumed in order, so the schedule is explicit rather than derived.
type RetryConfig struct {
	Delays []time.Duration
}

// DefaultRetryConfig retries transient upstream failures twice after the
// first attempt, backing off roughly geometrically.
var DefaultRetryConfig = RetryConfig{
	Delays: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 900 * time.Millisecond},
}

// WithRetry executes fn up to len(Delays)+1 times. It stops early when the
// error is not a retryable *Error or the context is cancelled.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var lastErr error
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		rerr, ok := err.(*Error)
		if !ok || !rerr.Retryable {
			return zero, err
		}
		if attempt >= len(cfg.Delays) {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Delays[attempt]):
		}
	}

	return zero, lastErr
}
