package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWorkerClosed is returned by Start after Close.
	ErrWorkerClosed = errors.New("job worker is closed")
	// ErrNotRunning is reported by HealthCheck for a stopped worker.
	ErrNotRunning = errors.New("job worker is not running")
)

// BPMNError asks the engine to raise a business error at the job's element.
// It is an expected outcome, not a fault.
type BPMNError struct {
	Code      string
	Message   string
	Variables map[string]any
}

// NewBPMNError creates a BPMNError.
func NewBPMNError(code, message string, variables map[string]any) *BPMNError {
	return &BPMNError{Code: code, Message: message, Variables: variables}
}

func (e *BPMNError) Error() string {
	if e.Message == "" {
		return "bpmn error " + e.Code
	}
	return fmt.Sprintf("bpmn error %s: %s", e.Code, e.Message)
}

// JobFailure fails the job with an explicit retry count and backoff.
type JobFailure struct {
	Message   string
	Retries   int
	Backoff   time.Duration
	Variables map[string]any
}

// NewJobFailure creates a JobFailure.
func NewJobFailure(message string, retries int, backoff time.Duration) *JobFailure {
	if retries < 0 {
		retries = 0
	}
	return &JobFailure{Message: message, Retries: retries, Backoff: backoff}
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("job failure (retries=%d): %s", e.Retries, e.Message)
}

// outcomeKind is the closed set of ways a handler can finish.
type outcomeKind string

const (
	outcomeCompleted outcomeKind = "completed"
	outcomeBPMNError outcomeKind = "bpmn_error"
	outcomeFailed    outcomeKind = "failed"
	outcomeFault     outcomeKind = "fault"
	// outcomeAbandoned is a cancellation during worker shutdown; the lease
	// is left to expire on the server.
	outcomeAbandoned outcomeKind = "abandoned"
)

type outcome struct {
	kind      outcomeKind
	variables map[string]any
	bpmn      *BPMNError
	failure   *JobFailure
	err       error
}

func classifyOutcome(variables map[string]any, err error, shuttingDown bool) outcome {
	if err == nil {
		return outcome{kind: outcomeCompleted, variables: variables}
	}

	var bpmn *BPMNError
	if errors.As(err, &bpmn) {
		return outcome{kind: outcomeBPMNError, bpmn: bpmn, err: err}
	}
	var failure *JobFailure
	if errors.As(err, &failure) {
		return outcome{kind: outcomeFailed, failure: failure, err: err}
	}
	if shuttingDown && errors.Is(err, context.Canceled) {
		return outcome{kind: outcomeAbandoned, err: err}
	}
	return outcome{kind: outcomeFault, err: err}
}
