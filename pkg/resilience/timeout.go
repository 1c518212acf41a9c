package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its own timeout while the
// caller's context is still live.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn under a derived context bounded by timeout and returns
// its result. A non-positive timeout runs fn with ctx unchanged.
//
// When the derived deadline fires before fn returns, WithTimeout returns
// ErrTimeout; cancellation of the parent context is returned as ctx.Err().
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(timeoutCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && ctx.Err() == nil && errors.Is(result.err, context.DeadlineExceeded) {
			return result.value, ErrTimeout
		}
		return result.value, result.err
	case <-timeoutCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrTimeout
	}
}
