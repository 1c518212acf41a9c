package consistency

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return http.StatusText(int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

type instance struct {
	State string
}

func TestPoll_DisabledInvokesOnce(t *testing.T) {
	var calls atomic.Int32
	got, err := Poll(context.Background(), "getProcessInstance", true, func(context.Context) (*instance, error) {
		calls.Add(1)
		return nil, nil
	}, Options[*instance]{})
	if err != nil || got != nil {
		t.Fatalf("unexpected result %v / %v", got, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls.Load())
	}
}

func TestPoll_ReturnsFirstConsistentResult(t *testing.T) {
	var calls atomic.Int32
	got, err := Poll(context.Background(), "getProcessInstance", true, func(context.Context) (*instance, error) {
		if calls.Add(1) < 3 {
			return &instance{State: "ACTIVE"}, nil
		}
		return &instance{State: "COMPLETED"}, nil
	}, Options[*instance]{
		WaitUpTo:     time.Second,
		PollInterval: time.Millisecond,
		IsConsistent: func(i *instance) bool { return i.State == "COMPLETED" },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != "COMPLETED" || calls.Load() != 3 {
		t.Fatalf("expected COMPLETED on call 3, got %+v after %d", got, calls.Load())
	}
}

func TestPoll_NotFoundIsToleratedForReads(t *testing.T) {
	var calls atomic.Int32
	got, err := Poll(context.Background(), "getProcessInstance", true, func(context.Context) (*instance, error) {
		if calls.Add(1) < 3 {
			return nil, statusErr(http.StatusNotFound)
		}
		return &instance{State: "ACTIVE"}, nil
	}, Options[*instance]{WaitUpTo: time.Second, PollInterval: time.Millisecond})
	if err != nil || got == nil {
		t.Fatalf("expected result after not-found, got %v / %v", got, err)
	}
}

func TestPoll_NotFoundIsFatalForNonReads(t *testing.T) {
	var calls atomic.Int32
	_, err := Poll(context.Background(), "cancelProcessInstance", false, func(context.Context) (*instance, error) {
		calls.Add(1)
		return nil, statusErr(http.StatusNotFound)
	}, Options[*instance]{WaitUpTo: time.Second, PollInterval: time.Millisecond})
	var coded statusErr
	if !errors.As(err, &coded) || calls.Load() != 1 {
		t.Fatalf("expected immediate 404, got %v after %d calls", err, calls.Load())
	}
}

func TestPoll_OtherErrorsPropagate(t *testing.T) {
	want := errors.New("decode failed")
	_, err := Poll(context.Background(), "op", true, func(context.Context) (*instance, error) {
		return nil, want
	}, Options[*instance]{WaitUpTo: time.Second, PollInterval: time.Millisecond})
	if err != want {
		t.Fatalf("expected passthrough, got %v", err)
	}
}

func TestPoll_TimesOutWithElapsed(t *testing.T) {
	wait := 20 * time.Millisecond
	_, err := Poll(context.Background(), "searchProcessInstances", true, func(context.Context) ([]instance, error) {
		return []instance{}, nil
	}, Options[[]instance]{
		WaitUpTo:     wait,
		PollInterval: 3 * time.Millisecond,
		IsConsistent: func(items []instance) bool { return len(items) > 0 },
	})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected errors.Is(err, ErrTimeout)")
	}
	if timeoutErr.Elapsed < wait {
		t.Fatalf("elapsed %s must be >= %s", timeoutErr.Elapsed, wait)
	}
	if timeoutErr.OperationID != "searchProcessInstances" {
		t.Fatalf("unexpected operation id %q", timeoutErr.OperationID)
	}
}

func TestPoll_CancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Poll(ctx, "getProcessInstance", true, func(context.Context) (*instance, error) {
		return nil, statusErr(http.StatusNotFound)
	}, Options[*instance]{WaitUpTo: time.Minute, PollInterval: time.Second})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("cancellation must not be reported as a timeout")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancellation did not interrupt the poll interval")
	}
}

func TestIsPresent(t *testing.T) {
	var nilPtr *instance
	var nilMap map[string]any
	if isPresent(nilPtr) || isPresent(nilMap) || isPresent(nil) {
		t.Fatal("nil values must not be present")
	}
	if !isPresent(instance{}) || !isPresent(&instance{}) || !isPresent(0) {
		t.Fatal("non-nil values must be present")
	}
}
