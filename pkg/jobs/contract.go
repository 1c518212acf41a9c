// Package jobs runs job workers: long-lived loops that lease jobs of one type
// from the engine, hand each to a Handler and report the outcome back.
package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/orchestra/pkg/client"
	"github.com/nimburion/orchestra/pkg/config"
)

const (
	DefaultJobTimeout        = 5 * time.Minute
	DefaultMaxConcurrentJobs = 10
	DefaultPollInterval      = 500 * time.Millisecond
	// DefaultGracePeriod bounds how long Close waits for in-flight jobs.
	DefaultGracePeriod = 10 * time.Second
	// DefaultReportTimeout bounds one outcome report.
	DefaultReportTimeout = 30 * time.Second
)

// ActivatedJob is a lease on one unit of work.
type ActivatedJob = client.ActivatedJob

// Handler processes one job. Returning nil error completes the job with the
// returned variables. Return a *BPMNError or *JobFailure to signal those
// outcomes; any other error fails the job with one retry consumed.
type Handler func(ctx context.Context, job *ActivatedJob) (map[string]any, error)

// API is the subset of the engine API a worker needs. *client.Client
// implements it.
type API interface {
	ActivateJobs(ctx context.Context, req client.ActivateJobsRequest) ([]client.ActivatedJob, error)
	CompleteJob(ctx context.Context, jobKey string, req client.CompleteJobRequest) error
	FailJob(ctx context.Context, jobKey string, req client.FailJobRequest) error
	ThrowJobError(ctx context.Context, jobKey string, req client.ThrowJobErrorRequest) error
}

// JobWorkerConfig is fixed once a worker is created.
type JobWorkerConfig struct {
	JobType string
	// JobTimeout is the lock duration requested on activation; the handler
	// context carries the same deadline.
	JobTimeout        time.Duration
	MaxConcurrentJobs int
	PollInterval      time.Duration
	// PollTimeout enables long polling on activation when positive.
	PollTimeout    time.Duration
	FetchVariables []string
	WorkerName     string
	TenantIDs      []string
	AutoStart      bool
}

// WithDefaults fills unset fields from the client configuration.
func (c JobWorkerConfig) WithDefaults(defaults config.WorkerConfig) JobWorkerConfig {
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.Timeout
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaults.PollTimeout
	}
	if strings.TrimSpace(c.WorkerName) == "" {
		c.WorkerName = defaults.Name
	}
	return c
}

func (c *JobWorkerConfig) normalize() {
	c.JobType = strings.TrimSpace(c.JobType)
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout < 0 {
		c.PollTimeout = 0
	}
	if strings.TrimSpace(c.WorkerName) == "" {
		c.WorkerName = "orchestra-worker-" + uuid.NewString()[:8]
	}
}

func (c JobWorkerConfig) activationRequest(capacity int) client.ActivateJobsRequest {
	return client.ActivateJobsRequest{
		Type:              c.JobType,
		Worker:            c.WorkerName,
		Timeout:           c.JobTimeout.Milliseconds(),
		MaxJobsToActivate: capacity,
		FetchVariable:     c.FetchVariables,
		RequestTimeout:    c.PollTimeout.Milliseconds(),
		TenantIDs:         c.TenantIDs,
	}
}
