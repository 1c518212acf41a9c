package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nimburion/orchestra/pkg/observability/logger"
)

const (
	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 200 * time.Millisecond
	DefaultRetryMaxDelay    = 5 * time.Second

	jitterRatio = 0.2
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c *RetryConfig) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryMaxDelay
	}
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultRetryMaxAttempts,
		BaseDelay:   DefaultRetryBaseDelay,
		MaxDelay:    DefaultRetryMaxDelay,
	}
}

// RetryOption customizes one ExecuteWithRetry call.
type RetryOption func(*retryOptions)

type retryOptions struct {
	log     logger.Logger
	jitter  func() float64
	onRetry func(attempt int, delay time.Duration, decision RetryDecision)
}

// WithRetryLogger logs every retry decision.
func WithRetryLogger(log logger.Logger) RetryOption {
	return func(o *retryOptions) {
		o.log = log
	}
}

// WithJitterSource replaces the uniform [0,1) source used for jitter.
func WithJitterSource(source func() float64) RetryOption {
	return func(o *retryOptions) {
		o.jitter = source
	}
}

// WithOnRetry registers a hook invoked before sleeping for a retry.
func WithOnRetry(hook func(attempt int, delay time.Duration, decision RetryDecision)) RetryOption {
	return func(o *retryOptions) {
		o.onRetry = hook
	}
}

// ExecuteWithRetry runs op until it succeeds, the classifier declares the
// failure fatal, MaxAttempts is reached or ctx is done. The error returned is
// always the last error produced by op, unwrapped.
func ExecuteWithRetry[T any](ctx context.Context, cfg RetryConfig, classify Classifier, op func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	cfg.normalize()
	if classify == nil {
		classify = DefaultClassifier
	}
	options := retryOptions{jitter: rand.Float64}
	for _, opt := range opts {
		opt(&options)
	}

	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}

		decision := classify(err)
		if !decision.Retryable || attempt >= cfg.MaxAttempts {
			if options.log != nil {
				options.log.Debug("retry loop giving up",
					"attempt", attempt,
					"max_attempts", cfg.MaxAttempts,
					"retryable", decision.Retryable,
					"reason", decision.Reason,
				)
			}
			return zero, err
		}

		delay := BackoffDelay(attempt, cfg.BaseDelay, cfg.MaxDelay, options.jitter())
		if options.log != nil {
			options.log.Warn("retrying after failure",
				"attempt", attempt,
				"delay", delay,
				"reason", decision.Reason,
				"error", err,
			)
		}
		if options.onRetry != nil {
			options.onRetry(attempt, delay, decision)
		}

		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// BackoffDelay returns min(base*2^(attempt-1), max) with symmetric ±10%
// jitter driven by r in [0,1).
func BackoffDelay(attempt int, base, max time.Duration, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := math.Pow(2, float64(attempt-1))
	raw := float64(base) * exp
	if raw > float64(max) || math.IsInf(raw, 1) {
		raw = float64(max)
	}
	jittered := raw + raw*jitterRatio*(r-0.5)
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
