// Package consistency bridges the read-after-write gap of the engine's
// secondary storage by polling read operations until they see the data.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/nimburion/orchestra/pkg/resilience"
)

// DefaultPollInterval is used when Options.PollInterval is not positive.
const DefaultPollInterval = 500 * time.Millisecond

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("eventual consistency timeout")

// Options enables polling for one call. A zero WaitUpTo disables polling.
type Options[T any] struct {
	WaitUpTo     time.Duration
	PollInterval time.Duration
	// IsConsistent decides whether a result is acceptable. When nil any
	// non-nil result is accepted.
	IsConsistent func(T) bool
}

// TimeoutError reports that the data did not become visible in time.
type TimeoutError struct {
	OperationID string
	Elapsed     time.Duration
	WaitUpTo    time.Duration
	// LastErr is the last tolerated not-found error, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s not consistent after %s (wait up to %s)", e.OperationID, e.Elapsed, e.WaitUpTo)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Poll calls invoke until the result is consistent or WaitUpTo elapses.
// For idempotent reads a 404 counts as "not yet visible". Cancellation of ctx
// is returned as ctx.Err(), never as a TimeoutError.
func Poll[T any](ctx context.Context, operationID string, isIdempotentRead bool, invoke func(context.Context) (T, error), opts Options[T]) (T, error) {
	if opts.WaitUpTo <= 0 {
		return invoke(ctx)
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	consistent := opts.IsConsistent
	if consistent == nil {
		consistent = func(result T) bool { return isPresent(result) }
	}

	var (
		zero    T
		elapsed time.Duration
		lastErr error
	)
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := invoke(ctx)
		switch {
		case err == nil:
			if consistent(result) {
				return result, nil
			}
		case isIdempotentRead && isNotFound(err):
			lastErr = err
		default:
			return zero, err
		}

		if elapsed >= opts.WaitUpTo {
			return zero, &TimeoutError{
				OperationID: operationID,
				Elapsed:     elapsed,
				WaitUpTo:    opts.WaitUpTo,
				LastErr:     lastErr,
			}
		}
		if err := resilience.Sleep(ctx, interval); err != nil {
			return zero, err
		}
		elapsed += interval
	}
}

func isNotFound(err error) bool {
	var coded resilience.StatusCoder
	return errors.As(err, &coded) && coded.StatusCode() == http.StatusNotFound
}

func isPresent(value any) bool {
	if value == nil {
		return false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return !rv.IsNil()
	default:
		return true
	}
}
