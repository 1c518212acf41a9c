package jobs

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsActivatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_jobs_activated_total",
			Help: "Total number of jobs leased by workers",
		},
		[]string{"job_type"},
	)

	jobsActivationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_jobs_activation_errors_total",
			Help: "Total number of failed job activation calls",
		},
		[]string{"job_type"},
	)

	jobsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_jobs_handled_total",
			Help: "Total number of jobs handled, by outcome",
		},
		[]string{"job_type", "outcome"},
	)

	jobsHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestra_jobs_handler_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	jobsReportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_jobs_report_failures_total",
			Help: "Total number of outcome reports that failed",
		},
		[]string{"job_type", "outcome"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestra_jobs_inflight",
			Help: "Current number of jobs being handled",
		},
		[]string{"job_type"},
	)
)

// Collectors returns the worker collectors so they can be added to a
// dedicated registry such as metrics.Registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		jobsActivatedTotal,
		jobsActivationErrorsTotal,
		jobsHandledTotal,
		jobsHandlerDuration,
		jobsReportFailuresTotal,
		jobsInFlight,
	}
}

func recordJobsActivated(jobType string, count int) {
	jobsActivatedTotal.WithLabelValues(normalizeMetricLabel(jobType)).Add(float64(count))
}

func recordActivationError(jobType string) {
	jobsActivationErrorsTotal.WithLabelValues(normalizeMetricLabel(jobType)).Inc()
}

func recordJobHandled(jobType string, kind outcomeKind, duration time.Duration) {
	label := normalizeMetricLabel(jobType)
	jobsHandledTotal.WithLabelValues(label, string(kind)).Inc()
	jobsHandlerDuration.WithLabelValues(label).Observe(duration.Seconds())
}

func recordReportFailure(jobType string, kind outcomeKind) {
	jobsReportFailuresTotal.WithLabelValues(normalizeMetricLabel(jobType), string(kind)).Inc()
}

func incrementJobInFlight(jobType string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(jobType)).Inc()
}

func decrementJobInFlight(jobType string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(jobType)).Dec()
}

func normalizeMetricLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
