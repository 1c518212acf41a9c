package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimburion/orchestra/pkg/client"
	"github.com/nimburion/orchestra/pkg/observability/logger"
	"github.com/nimburion/orchestra/pkg/observability/tracing"
	"github.com/nimburion/orchestra/pkg/resilience"
)

// stopPollInterval is how often Stop re-reads the active job counter.
const stopPollInterval = 20 * time.Millisecond

type workerState int

const (
	stateStopped workerState = iota
	stateRunning
	stateStopping
)

// StopResult reports what was still in flight when Stop returned.
type StopResult struct {
	RemainingJobs       int
	GracePeriodExceeded bool
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(log logger.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithReportTimeout bounds each outcome report.
func WithReportTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.reportTimeout = timeout
		}
	}
}

// Worker polls one job type and dispatches jobs to a Handler.
// State machine: stopped -> running -> stopping -> stopped.
type Worker struct {
	api           API
	config        JobWorkerConfig
	handler       Handler
	log           logger.Logger
	reportTimeout time.Duration

	activeJobs atomic.Int64
	polls      atomic.Int64

	mu         sync.Mutex
	state      workerState
	closed     bool
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	cancelJobs []context.CancelFunc
}

// NewWorker creates a worker. When api can track resources (as
// *client.Client does) the worker registers itself so closing the client
// stops it. With AutoStart the worker starts immediately.
func NewWorker(api API, cfg JobWorkerConfig, handler Handler, opts ...Option) (*Worker, error) {
	if api == nil {
		return nil, errors.New("api is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	cfg.normalize()
	if cfg.JobType == "" {
		return nil, errors.New("job type is required")
	}

	w := &Worker{
		api:           api,
		config:        cfg,
		handler:       handler,
		log:           logger.NewNop(),
		reportTimeout: DefaultReportTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("job_type", cfg.JobType, "worker", cfg.WorkerName)

	if tracker, ok := api.(interface{ Track(io.Closer) }); ok {
		tracker.Track(w)
	}
	if cfg.AutoStart {
		if err := w.Start(context.Background()); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// NewClientWorker creates a worker on c, filling unset config fields from the
// client's worker defaults and using the client's logger.
func NewClientWorker(c *client.Client, cfg JobWorkerConfig, handler Handler, opts ...Option) (*Worker, error) {
	if c == nil {
		return nil, errors.New("client is required")
	}
	cfg = cfg.WithDefaults(c.WorkerDefaults())
	opts = append([]Option{WithLogger(c.Logger())}, opts...)
	return NewWorker(c, cfg, handler, opts...)
}

// Config returns the worker configuration.
func (w *Worker) Config() JobWorkerConfig {
	return w.config
}

// ActiveJobs returns the number of jobs being handled.
func (w *Worker) ActiveJobs() int {
	return int(w.activeJobs.Load())
}

// IsRunning reports whether the poll loop is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stateRunning
}

// HealthCheck implements health.Checkable.
func (w *Worker) HealthCheck(context.Context) error {
	if !w.IsRunning() {
		return ErrNotRunning
	}
	return nil
}

// Start begins polling. It is a no-op when already running. Handlers receive
// a context derived from ctx, so cancelling ctx also cancels in-flight jobs;
// Stop only ends polling.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	if w.state != stateStopped {
		return nil
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	jobsCtx, cancelJobs := context.WithCancel(ctx)
	w.cancelLoop = cancelLoop
	w.cancelJobs = append(w.cancelJobs, cancelJobs)
	w.loopDone = make(chan struct{})
	w.state = stateRunning

	go w.poll(loopCtx, jobsCtx, w.loopDone)
	w.log.Info("job worker started", "max_concurrent_jobs", w.config.MaxConcurrentJobs)
	return nil
}

// Stop ends polling and, when gracePeriod is positive, waits up to
// gracePeriod for in-flight jobs to finish. In-flight jobs are not cancelled.
func (w *Worker) Stop(gracePeriod time.Duration) StopResult {
	w.mu.Lock()
	if w.state != stateRunning {
		w.mu.Unlock()
		return StopResult{RemainingJobs: w.ActiveJobs()}
	}
	w.state = stateStopping
	cancel := w.cancelLoop
	done := w.loopDone
	w.mu.Unlock()

	cancel()
	<-done

	result := StopResult{RemainingJobs: w.ActiveJobs()}
	if gracePeriod > 0 && result.RemainingJobs > 0 {
		result = w.awaitJobs(gracePeriod)
	}

	w.mu.Lock()
	w.state = stateStopped
	w.mu.Unlock()

	w.log.Info("job worker stopped",
		"remaining_jobs", result.RemainingJobs,
		"grace_period_exceeded", result.GracePeriodExceeded,
	)
	return result
}

func (w *Worker) awaitJobs(gracePeriod time.Duration) StopResult {
	deadline := time.Now().Add(gracePeriod)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		remaining := w.ActiveJobs()
		if remaining == 0 {
			return StopResult{}
		}
		if !time.Now().Before(deadline) {
			return StopResult{RemainingJobs: remaining, GracePeriodExceeded: true}
		}
		<-ticker.C
	}
}

// Close stops the worker with DefaultGracePeriod, then cancels any handler
// still running. A closed worker cannot be restarted.
func (w *Worker) Close() error {
	result := w.Stop(DefaultGracePeriod)

	w.mu.Lock()
	w.closed = true
	cancels := w.cancelJobs
	w.cancelJobs = nil
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if result.GracePeriodExceeded {
		w.log.Warn("job worker closed with jobs in flight", "remaining_jobs", result.RemainingJobs)
	}
	return nil
}

func (w *Worker) poll(loopCtx, jobsCtx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		// the parent context ended the loop without Stop
		if w.state == stateRunning && w.loopDone == done {
			w.state = stateStopped
		}
		w.mu.Unlock()
		close(done)
	}()

	for loopCtx.Err() == nil {
		capacity := w.config.MaxConcurrentJobs - w.ActiveJobs()
		if capacity <= 0 {
			if resilience.Sleep(loopCtx, w.config.PollInterval) != nil {
				return
			}
			continue
		}

		w.polls.Add(1)
		jobs, err := w.api.ActivateJobs(loopCtx, w.config.activationRequest(capacity))
		if err != nil {
			if loopCtx.Err() != nil {
				return
			}
			recordActivationError(w.config.JobType)
			w.log.Warn("job activation failed", "error", err)
			if resilience.Sleep(loopCtx, w.config.PollInterval) != nil {
				return
			}
			continue
		}

		if len(jobs) == 0 {
			if resilience.Sleep(loopCtx, w.config.PollInterval) != nil {
				return
			}
			continue
		}

		recordJobsActivated(w.config.JobType, len(jobs))
		for i := range jobs {
			job := jobs[i]
			w.activeJobs.Add(1)
			incrementJobInFlight(w.config.JobType)
			go w.handle(jobsCtx, &job)
		}
	}
}

func (w *Worker) handle(ctx context.Context, job *ActivatedJob) {
	defer func() {
		decrementJobInFlight(w.config.JobType)
		w.activeJobs.Add(-1)
	}()

	ctx, span := tracing.StartJobSpan(ctx, job.Type, job.JobKey,
		tracing.WithRetries(job.Retries),
		tracing.WithTenant(job.TenantID),
	)
	defer span.End()
	log := w.log.With("job_key", job.JobKey)

	start := time.Now()
	result := w.invoke(ctx, log, job)
	recordJobHandled(w.config.JobType, result.kind, time.Since(start))
	tracing.SetOutcome(span, string(result.kind))

	if err := w.report(ctx, job, result); err != nil {
		recordReportFailure(w.config.JobType, result.kind)
		tracing.RecordError(span, err)
		log.Error("reporting job outcome failed", "outcome", string(result.kind), "error", err)
		return
	}
	if result.kind == outcomeFault {
		tracing.RecordError(span, result.err)
		return
	}
	tracing.RecordSuccess(span)
}

func (w *Worker) invoke(ctx context.Context, log logger.Logger, job *ActivatedJob) (result outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job handler panicked", "panic", rec, "stack", string(debug.Stack()))
			result = outcome{kind: outcomeFault, err: fmt.Errorf("panic while handling job: %v", rec)}
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	variables, err := w.handler(handlerCtx, job)
	return classifyOutcome(variables, err, ctx.Err() != nil)
}

func (w *Worker) report(ctx context.Context, job *ActivatedJob, result outcome) error {
	if result.kind == outcomeAbandoned {
		w.log.Info("job abandoned during shutdown", "job_key", job.JobKey)
		return nil
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.reportTimeout)
	defer cancel()

	switch result.kind {
	case outcomeCompleted:
		return w.api.CompleteJob(reportCtx, job.JobKey, client.CompleteJobRequest{Variables: result.variables})
	case outcomeBPMNError:
		return w.api.ThrowJobError(reportCtx, job.JobKey, client.ThrowJobErrorRequest{
			ErrorCode:    result.bpmn.Code,
			ErrorMessage: result.bpmn.Message,
			Variables:    result.bpmn.Variables,
		})
	case outcomeFailed:
		return w.api.FailJob(reportCtx, job.JobKey, client.FailJobRequest{
			Retries:      result.failure.Retries,
			ErrorMessage: result.failure.Message,
			RetryBackOff: result.failure.Backoff.Milliseconds(),
			Variables:    result.failure.Variables,
		})
	default:
		w.log.Warn("job handler failed", "job_key", job.JobKey, "error", result.err)
		return w.api.FailJob(reportCtx, job.JobKey, client.FailJobRequest{
			Retries:      max(0, job.Retries-1),
			ErrorMessage: result.err.Error(),
		})
	}
}
