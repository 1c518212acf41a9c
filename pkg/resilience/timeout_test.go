package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_ReturnsValue(t *testing.T) {
	got, err := WithTimeout(context.Background(), 100*time.Millisecond, func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("expected 7, got %d / %v", got, err)
	}
}

func TestWithTimeout_Expires(t *testing.T) {
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWithTimeout_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout_NoTimeoutRunsInline(t *testing.T) {
	want := errors.New("boom")
	_, err := WithTimeout(context.Background(), 0, func(context.Context) (string, error) {
		return "", want
	})
	if err != want {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}
