package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type statusError struct {
	status int
}

func (e *statusError) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e *statusError) StatusCode() int { return e.status }

func fastRetry(maxAttempts int) RetryConfig {
	return RetryConfig{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestExecuteWithRetry_NonRetryableMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	want := &statusError{status: http.StatusBadRequest}

	_, err := ExecuteWithRetry(context.Background(), fastRetry(5), nil, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, want
	})

	if err != want {
		t.Fatalf("expected the original error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestExecuteWithRetry_RetryableExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	want := &statusError{status: http.StatusServiceUnavailable}

	_, err := ExecuteWithRetry(context.Background(), fastRetry(4), nil, func(context.Context) (string, error) {
		calls.Add(1)
		return "", want
	})

	if err != want {
		t.Fatalf("expected the last underlying error, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var retries []int

	got, err := ExecuteWithRetry(context.Background(), fastRetry(5), nil, func(context.Context) (string, error) {
		if calls.Add(1) <= 3 {
			return "", &statusError{status: http.StatusTooManyRequests}
		}
		return "ok", nil
	}, WithOnRetry(func(attempt int, _ time.Duration, decision RetryDecision) {
		retries = append(retries, attempt)
		if decision.Reason != "too many requests" {
			t.Errorf("unexpected reason %q", decision.Reason)
		}
	}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
	if len(retries) != 3 {
		t.Fatalf("expected 3 retries, got %v", retries)
	}
}

func TestExecuteWithRetry_CustomClassifier(t *testing.T) {
	var calls atomic.Int32
	sentinel := errors.New("custom")
	classify := func(err error) RetryDecision {
		return RetryDecision{Retryable: errors.Is(err, sentinel), Reason: "custom"}
	}

	_, err := ExecuteWithRetry(context.Background(), fastRetry(3), classify, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts ending in sentinel, got %d / %v", calls.Load(), err)
	}
}

func TestExecuteWithRetry_CancelDuringBackoffStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ExecuteWithRetry(ctx, cfg, nil, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, &statusError{status: http.StatusInternalServerError}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no further attempt after cancel, got %d", calls.Load())
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancel did not interrupt the backoff sleep")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	tests := []struct {
		attempt int
		r       float64
		want    time.Duration
	}{
		{attempt: 1, r: 0.5, want: 100 * time.Millisecond},
		{attempt: 2, r: 0.5, want: 200 * time.Millisecond},
		{attempt: 3, r: 0.5, want: 400 * time.Millisecond},
		{attempt: 5, r: 0.5, want: time.Second},
		{attempt: 60, r: 0.5, want: time.Second},
		{attempt: 1, r: 0, want: 90 * time.Millisecond},
		{attempt: 1, r: 1, want: 110 * time.Millisecond},
	}
	for _, tt := range tests {
		got := BackoffDelay(tt.attempt, base, max, tt.r)
		diff := got - tt.want
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Microsecond {
			t.Errorf("BackoffDelay(%d, r=%v) = %v, want %v", tt.attempt, tt.r, got, tt.want)
		}
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "429", err: &statusError{status: 429}, want: true},
		{name: "503", err: &statusError{status: 503}, want: true},
		{name: "500", err: &statusError{status: 500}, want: true},
		{name: "wrapped 503", err: fmt.Errorf("call: %w", &statusError{status: 503}), want: true},
		{name: "404", err: &statusError{status: 404}, want: false},
		{name: "400", err: &statusError{status: 400}, want: false},
		{name: "timeout", err: ErrTimeout, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "decode", err: errors.New("invalid character"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultClassifier(tt.err); got.Retryable != tt.want {
				t.Fatalf("retryable = %v, want %v (%s)", got.Retryable, tt.want, got.Reason)
			}
		})
	}
}
