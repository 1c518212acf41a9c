package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// clientRequestsTotal counts completed HTTP attempts.
	// Labels: operation, method, status ("error" when no response was received)
	clientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_client_requests_total",
			Help: "Total number of HTTP request attempts issued by the client",
		},
		[]string{"operation", "method", "status"},
	)

	clientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestra_client_request_duration_seconds",
			Help:    "HTTP request attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "method"},
	)

	clientRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_client_retries_total",
			Help: "Total number of retries scheduled by the client",
		},
		[]string{"operation", "reason"},
	)

	backpressureSignalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestra_client_backpressure_signals_total",
			Help: "Total number of overload responses observed",
		},
	)

	backpressurePermits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestra_client_backpressure_permits",
			Help: "Current size of the backpressure permit pool (0 when gating is off)",
		},
	)

	backpressureConsecutiveSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestra_client_backpressure_consecutive_signals",
			Help: "Consecutive overload signals since the last recovery",
		},
	)

	tokenFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestra_oauth_token_fetch_total",
			Help: "Total number of OAuth token endpoint calls",
		},
		[]string{"result"},
	)
)

// RecordRequest records one HTTP attempt. status 0 means no response.
func RecordRequest(operation, method string, status int, duration time.Duration) {
	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	operation = normalizeLabel(operation)
	clientRequestsTotal.WithLabelValues(operation, method, statusLabel).Inc()
	clientRequestDuration.WithLabelValues(operation, method).Observe(duration.Seconds())
}

// RecordRetry records a scheduled retry.
func RecordRetry(operation, reason string) {
	clientRetriesTotal.WithLabelValues(normalizeLabel(operation), normalizeLabel(reason)).Inc()
}

// RecordBackpressureSignal counts one overload response.
func RecordBackpressureSignal() {
	backpressureSignalsTotal.Inc()
}

// SetBackpressureState publishes the latest permit pool size and signal counter.
func SetBackpressureState(permits, consecutive int) {
	backpressurePermits.Set(float64(permits))
	backpressureConsecutiveSignals.Set(float64(consecutive))
}

// RecordTokenFetch records the outcome ("success" or "failure") of a token endpoint call.
func RecordTokenFetch(result string) {
	tokenFetchTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
