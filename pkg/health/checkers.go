package health

import (
	"context"
	"fmt"
	"time"

	"github.com/nimburion/orchestra/pkg/resilience"
)

const (
	defaultCheckTimeout = 5 * time.Second
	// DefaultEngineCheckName names the engine reachability check.
	DefaultEngineCheckName = "engine"
	// DefaultBackpressureCheckName names the backpressure check.
	DefaultBackpressureCheckName = "backpressure"
)

// Checkable is an interface for components that support health checks
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker creates a health checker for any component that implements Checkable
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// NewEngineChecker checks that the engine answers, typically with a
// *client.Client whose HealthCheck reads the topology.
func NewEngineChecker(engine Checkable) *AdapterChecker {
	return NewAdapterChecker(DefaultEngineCheckName, engine, defaultCheckTimeout)
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:      c.name,
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Duration:  duration,
		}
	}

	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  duration,
	}
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// BackpressureSource exposes a backpressure snapshot; *client.Client
// implements it.
type BackpressureSource interface {
	BackpressureState() resilience.BackpressureState
}

// BackpressureChecker reports degraded while the engine is pushing back.
// Backpressure never makes the process unhealthy: requests still flow at a
// reduced rate.
type BackpressureChecker struct {
	name   string
	source BackpressureSource
}

// NewBackpressureChecker creates a checker over source.
func NewBackpressureChecker(source BackpressureSource) *BackpressureChecker {
	return &BackpressureChecker{name: DefaultBackpressureCheckName, source: source}
}

// Check reads the current backpressure state.
func (c *BackpressureChecker) Check(context.Context) CheckResult {
	state := c.source.BackpressureState()
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "no backpressure",
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"severity":            string(state.Severity),
			"permits_max":         state.PermitsMax,
			"consecutive_signals": state.ConsecutiveSignals,
		},
	}
	if state.Severity != resilience.SeverityHealthy {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s backpressure after %d consecutive signals", state.Severity, state.ConsecutiveSignals)
	}
	return result
}

// Name returns the name of the health check
func (c *BackpressureChecker) Name() string {
	return c.name
}
