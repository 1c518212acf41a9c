package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/orchestra/pkg/client"
	"github.com/nimburion/orchestra/pkg/testutil"
)

type fakeAPI struct {
	mu          sync.Mutex
	batches     [][]client.ActivatedJob
	activations []client.ActivateJobsRequest
	activateErr error
	completed   map[string]client.CompleteJobRequest
	failed      map[string]client.FailJobRequest
	thrown      map[string]client.ThrowJobErrorRequest
	reportErr   error
}

func newFakeAPI(batches ...[]client.ActivatedJob) *fakeAPI {
	return &fakeAPI{
		batches:   batches,
		completed: map[string]client.CompleteJobRequest{},
		failed:    map[string]client.FailJobRequest{},
		thrown:    map[string]client.ThrowJobErrorRequest{},
	}
}

func (a *fakeAPI) ActivateJobs(_ context.Context, req client.ActivateJobsRequest) ([]client.ActivatedJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activations = append(a.activations, req)
	if a.activateErr != nil {
		return nil, a.activateErr
	}
	if len(a.batches) == 0 {
		return nil, nil
	}
	batch := a.batches[0]
	a.batches = a.batches[1:]
	if len(batch) > req.MaxJobsToActivate {
		batch = batch[:req.MaxJobsToActivate]
	}
	return batch, nil
}

func (a *fakeAPI) CompleteJob(_ context.Context, jobKey string, req client.CompleteJobRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed[jobKey] = req
	return a.reportErr
}

func (a *fakeAPI) FailJob(_ context.Context, jobKey string, req client.FailJobRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed[jobKey] = req
	return a.reportErr
}

func (a *fakeAPI) ThrowJobError(_ context.Context, jobKey string, req client.ThrowJobErrorRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thrown[jobKey] = req
	return a.reportErr
}

func (a *fakeAPI) activationCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.activations)
}

func (a *fakeAPI) reports() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.completed) + len(a.failed) + len(a.thrown)
}

func testJobs(n, retries int) []client.ActivatedJob {
	jobs := make([]client.ActivatedJob, 0, n)
	for i := 1; i <= n; i++ {
		jobs = append(jobs, client.ActivatedJob{Type: "payment", JobKey: strconv.Itoa(i), Retries: retries})
	}
	return jobs
}

func testConfig(maxJobs int) JobWorkerConfig {
	return JobWorkerConfig{
		JobType:           "payment",
		MaxConcurrentJobs: maxJobs,
		PollInterval:      5 * time.Millisecond,
		JobTimeout:        time.Second,
		WorkerName:        "test-worker",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorker_ReportsEveryOutcomeAndCounterReturnsToZero(t *testing.T) {
	api := newFakeAPI(testJobs(5, 3))
	handler := func(_ context.Context, job *ActivatedJob) (map[string]any, error) {
		switch job.JobKey {
		case "1":
			return map[string]any{"paid": true}, nil
		case "2":
			return nil, NewBPMNError("NO_FUNDS", "card declined", map[string]any{"reason": "declined"})
		case "3":
			return nil, NewJobFailure("gateway down", 7, 3*time.Second)
		case "4":
			return nil, errors.New("unexpected")
		default:
			panic("handler bug")
		}
	}

	w, err := NewWorker(api, testConfig(10), handler)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return api.reports() == 5 })
	waitFor(t, time.Second, func() bool { return w.ActiveJobs() == 0 })
	result := w.Stop(time.Second)
	if result.RemainingJobs != 0 || result.GracePeriodExceeded {
		t.Fatalf("unexpected stop result %+v", result)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if got := api.completed["1"].Variables["paid"]; got != true {
		t.Errorf("completion variables = %v", api.completed["1"].Variables)
	}
	if thrown := api.thrown["2"]; thrown.ErrorCode != "NO_FUNDS" || thrown.ErrorMessage != "card declined" {
		t.Errorf("bpmn error report = %+v", thrown)
	}
	if failed := api.failed["3"]; failed.Retries != 7 || failed.RetryBackOff != 3000 {
		t.Errorf("explicit failure report = %+v", failed)
	}
	if failed := api.failed["4"]; failed.Retries != 2 || failed.RetryBackOff != 0 || failed.ErrorMessage != "unexpected" {
		t.Errorf("generic failure report = %+v", failed)
	}
	if failed := api.failed["5"]; failed.Retries != 2 {
		t.Errorf("panic should fail with one retry consumed, got %+v", failed)
	}
}

func TestWorker_GenericFailureNeverReportsNegativeRetries(t *testing.T) {
	api := newFakeAPI(testJobs(1, 0))
	w, err := NewWorker(api, testConfig(1), func(context.Context, *ActivatedJob) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	defer w.Stop(0)

	waitFor(t, time.Second, func() bool { return api.reports() == 1 })
	api.mu.Lock()
	defer api.mu.Unlock()
	if got := api.failed["1"].Retries; got != 0 {
		t.Fatalf("retries = %d, want 0", got)
	}
}

func TestWorker_RespectsCapacity(t *testing.T) {
	api := newFakeAPI(testJobs(2, 3), []client.ActivatedJob{{Type: "payment", JobKey: "3", Retries: 3}})
	release := make(chan struct{})
	var releaseOnce sync.Once
	defer releaseOnce.Do(func() { close(release) })

	w, err := NewWorker(api, testConfig(2), func(_ context.Context, job *ActivatedJob) (map[string]any, error) {
		if job.JobKey == "1" {
			<-release
		}
		if job.JobKey == "2" {
			<-release
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	defer w.Stop(time.Second)

	waitFor(t, time.Second, func() bool { return w.ActiveJobs() == 2 })
	activations := api.activationCount()

	// several poll intervals with no free capacity
	time.Sleep(50 * time.Millisecond)
	if got := api.activationCount(); got != activations {
		t.Fatalf("worker polled at zero capacity: %d activations, want %d", got, activations)
	}

	releaseOnce.Do(func() { close(release) })
	waitFor(t, time.Second, func() bool { return api.activationCount() > activations })

	api.mu.Lock()
	first := api.activations[0]
	next := api.activations[activations]
	api.mu.Unlock()
	if first.MaxJobsToActivate != 2 {
		t.Errorf("first activation asked for %d jobs, want 2", first.MaxJobsToActivate)
	}
	if next.MaxJobsToActivate < 1 || next.MaxJobsToActivate > 2 {
		t.Errorf("next activation asked for %d jobs", next.MaxJobsToActivate)
	}
	if first.Worker != "test-worker" || first.Timeout != 1000 {
		t.Errorf("activation request = %+v", first)
	}
}

func TestWorker_ActivationErrorsDoNotStopLoop(t *testing.T) {
	api := newFakeAPI()
	api.activateErr = errors.New("engine unreachable")

	w, err := NewWorker(api, testConfig(1), func(context.Context, *ActivatedJob) (map[string]any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	defer w.Stop(0)

	waitFor(t, time.Second, func() bool { return api.activationCount() >= 3 })
	if !w.IsRunning() {
		t.Fatal("worker should keep running after activation errors")
	}
}

func TestWorker_ReportFailureIsAbsorbed(t *testing.T) {
	api := newFakeAPI(testJobs(1, 3), testJobs(1, 3))
	api.reportErr = errors.New("report rejected")

	w, err := NewWorker(api, testConfig(1), func(context.Context, *ActivatedJob) (map[string]any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	defer w.Stop(0)

	waitFor(t, time.Second, func() bool { return api.activationCount() >= 3 })
	if !w.IsRunning() {
		t.Fatal("worker should survive failed outcome reports")
	}
	waitFor(t, time.Second, func() bool { return w.ActiveJobs() == 0 })
}

func TestWorker_ShutdownCancellationIsNotReported(t *testing.T) {
	api := newFakeAPI(testJobs(1, 3))
	started := make(chan struct{})

	w, err := NewWorker(api, testConfig(1), func(ctx context.Context, _ *ActivatedJob) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	_ = w.Start(ctx)

	<-started
	cancel()
	waitFor(t, time.Second, func() bool { return w.ActiveJobs() == 0 })
	w.Stop(0)

	if got := api.reports(); got != 0 {
		t.Fatalf("expected no outcome report for an abandoned job, got %d", got)
	}
}

func TestWorker_JobTimeoutIsReportedAsFailure(t *testing.T) {
	api := newFakeAPI(testJobs(1, 2))
	cfg := testConfig(1)
	cfg.JobTimeout = 10 * time.Millisecond

	w, err := NewWorker(api, cfg, func(ctx context.Context, _ *ActivatedJob) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	defer w.Stop(0)

	waitFor(t, time.Second, func() bool { return api.reports() == 1 })
	api.mu.Lock()
	defer api.mu.Unlock()
	if got := api.failed["1"].Retries; got != 1 {
		t.Fatalf("retries = %d, want 1", got)
	}
}

func TestWorker_StopGracePeriod(t *testing.T) {
	testutil.SkipIfShort(t)
	api := newFakeAPI(testJobs(1, 3))
	release := make(chan struct{})
	started := make(chan struct{})

	w, err := NewWorker(api, testConfig(1), func(context.Context, *ActivatedJob) (map[string]any, error) {
		close(started)
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	<-started

	result := w.Stop(30 * time.Millisecond)
	if result.RemainingJobs != 1 || !result.GracePeriodExceeded {
		t.Fatalf("unexpected stop result %+v", result)
	}
	if w.IsRunning() {
		t.Fatal("worker should be stopped")
	}

	close(release)
	waitFor(t, time.Second, func() bool { return w.ActiveJobs() == 0 })
	if got := api.reports(); got != 1 {
		t.Fatalf("in-flight job should still report, got %d reports", got)
	}
}

func TestWorker_StopWaitsForInFlightJobs(t *testing.T) {
	api := newFakeAPI(testJobs(1, 3))
	started := make(chan struct{})

	w, err := NewWorker(api, testConfig(1), func(context.Context, *ActivatedJob) (map[string]any, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	_ = w.Start(context.Background())
	<-started

	result := w.Stop(time.Second)
	if result.RemainingJobs != 0 || result.GracePeriodExceeded {
		t.Fatalf("unexpected stop result %+v", result)
	}
}

func TestWorker_Lifecycle(t *testing.T) {
	api := newFakeAPI()
	w, err := NewWorker(api, testConfig(1), func(context.Context, *ActivatedJob) (map[string]any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}

	if err := w.HealthCheck(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("HealthCheck() before start = %v", err)
	}
	if result := w.Stop(time.Second); result != (StopResult{}) {
		t.Fatalf("Stop() on stopped worker = %+v", result)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start() should be a no-op, got %v", err)
	}
	if err := w.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() while running = %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("Start() after Close = %v, want ErrWorkerClosed", err)
	}
}

func TestNewWorker_Validation(t *testing.T) {
	handler := func(context.Context, *ActivatedJob) (map[string]any, error) { return nil, nil }
	if _, err := NewWorker(nil, testConfig(1), handler); err == nil {
		t.Error("expected error for nil api")
	}
	if _, err := NewWorker(newFakeAPI(), testConfig(1), nil); err == nil {
		t.Error("expected error for nil handler")
	}
	if _, err := NewWorker(newFakeAPI(), JobWorkerConfig{JobType: "  "}, handler); err == nil {
		t.Error("expected error for empty job type")
	}

	w, err := NewWorker(newFakeAPI(), JobWorkerConfig{JobType: "payment"}, handler)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	cfg := w.Config()
	if cfg.MaxConcurrentJobs != DefaultMaxConcurrentJobs || cfg.PollInterval != DefaultPollInterval || cfg.JobTimeout != DefaultJobTimeout {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.WorkerName == "" {
		t.Error("worker name should be generated")
	}
}

func TestNewWorker_AutoStart(t *testing.T) {
	api := newFakeAPI()
	cfg := testConfig(1)
	cfg.AutoStart = true

	w, err := NewWorker(api, cfg, func(context.Context, *ActivatedJob) (map[string]any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	defer w.Close()
	if !w.IsRunning() {
		t.Fatal("AutoStart worker should be running")
	}
}
