package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// RetryDecision is the verdict for one failed attempt.
type RetryDecision struct {
	Retryable bool
	Reason    string
}

// Classifier maps a failure to a RetryDecision.
type Classifier func(err error) RetryDecision

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// DefaultClassifier retries rate limiting (429), unavailability (503), server
// errors (500) and request timeouts. Everything else is fatal.
func DefaultClassifier(err error) RetryDecision {
	if err == nil {
		return RetryDecision{Retryable: false, Reason: "success"}
	}

	var coded StatusCoder
	if errors.As(err, &coded) {
		switch coded.StatusCode() {
		case http.StatusTooManyRequests:
			return RetryDecision{Retryable: true, Reason: "too many requests"}
		case http.StatusServiceUnavailable:
			return RetryDecision{Retryable: true, Reason: "service unavailable"}
		case http.StatusInternalServerError:
			return RetryDecision{Retryable: true, Reason: "internal server error"}
		default:
			return RetryDecision{Retryable: false, Reason: http.StatusText(coded.StatusCode())}
		}
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return RetryDecision{Retryable: true, Reason: "request timeout"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RetryDecision{Retryable: true, Reason: "request timeout"}
	}

	return RetryDecision{Retryable: false, Reason: "non-retryable error"}
}
