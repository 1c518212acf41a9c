package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nimburion/orchestra/pkg/observability/logger"
)

// Severity summarizes how hard the server has been pushing back.
type Severity string

const (
	SeverityHealthy Severity = "healthy"
	SeveritySoft    Severity = "soft"
	SeveritySevere  Severity = "severe"
)

// BackpressureConfig tunes the adaptive concurrency gate.
type BackpressureConfig struct {
	Enabled         bool
	ObserveOnly     bool
	InitialMax      int
	SoftFactor      float64
	SevereFactor    float64
	RecoveryStep    int
	DecayQuiet      time.Duration
	Floor           int
	SevereThreshold int
}

// DefaultBackpressureConfig is the "balanced" profile.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		Enabled:         true,
		InitialMax:      16,
		SoftFactor:      0.70,
		SevereFactor:    0.50,
		RecoveryStep:    1,
		DecayQuiet:      2 * time.Second,
		Floor:           1,
		SevereThreshold: 3,
	}
}

func (c *BackpressureConfig) normalize() {
	if c.Floor <= 0 {
		c.Floor = 1
	}
	if c.InitialMax < c.Floor {
		c.InitialMax = c.Floor
	}
	if c.SoftFactor <= 0 || c.SoftFactor >= 1 {
		c.SoftFactor = 0.70
	}
	if c.SevereFactor <= 0 || c.SevereFactor >= 1 {
		c.SevereFactor = 0.50
	}
	if c.RecoveryStep <= 0 {
		c.RecoveryStep = 1
	}
	if c.DecayQuiet < 0 {
		c.DecayQuiet = 0
	}
	if c.SevereThreshold <= 0 {
		c.SevereThreshold = 1
	}
}

func (c BackpressureConfig) gated() bool {
	return c.Enabled && !c.ObserveOnly
}

// BackpressureState is a point-in-time snapshot of the manager.
// PermitsMax is zero when gating is disabled or observe-only.
type BackpressureState struct {
	Severity           Severity `json:"severity"`
	PermitsMax         int      `json:"permits_max,omitempty"`
	ConsecutiveSignals int      `json:"consecutive_signals"`
}

// BackpressureOption customizes a BackpressureManager.
type BackpressureOption func(*BackpressureManager)

// WithBackpressureLogger sets the logger used for state transitions.
func WithBackpressureLogger(log logger.Logger) BackpressureOption {
	return func(m *BackpressureManager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithBackpressureClock replaces time.Now.
func WithBackpressureClock(now func() time.Time) BackpressureOption {
	return func(m *BackpressureManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithStateObserver is called with the new state after every change, while
// the manager's lock is held. Observers must not call back into the manager.
func WithStateObserver(observer func(BackpressureState)) BackpressureOption {
	return func(m *BackpressureManager) {
		m.observer = observer
	}
}

// BackpressureManager is an AIMD concurrency gate: multiplicative shrink on
// overload signals, additive growth after a quiet period.
type BackpressureManager struct {
	config   BackpressureConfig
	log      logger.Logger
	now      func() time.Time
	observer func(BackpressureState)

	mu          sync.Mutex
	permitsMax  int
	consecutive int
	lastSignal  time.Time
	lastGrowth  time.Time
	pool        *permitPool
}

// NewBackpressureManager creates a manager. With gating disabled Acquire and
// Release are no-ops and only the signal counter is tracked.
func NewBackpressureManager(cfg BackpressureConfig, opts ...BackpressureOption) *BackpressureManager {
	cfg.normalize()
	m := &BackpressureManager{
		config: cfg,
		log:    logger.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.gated() {
		m.permitsMax = cfg.InitialMax
		m.pool = newPermitPool(cfg.InitialMax)
	}
	return m
}

// Acquire blocks until a permit is free or ctx is done.
func (m *BackpressureManager) Acquire(ctx context.Context) error {
	if m == nil || m.pool == nil {
		return ctx.Err()
	}
	return m.pool.acquire(ctx)
}

// Release returns a permit. Releasing more than was acquired is ignored.
func (m *BackpressureManager) Release() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.release()
}

// RecordBackpressureSignal registers one overload response and shrinks the
// permit pool. Severity is evaluated after the counter is incremented, so the
// signal that reaches SevereThreshold already applies SevereFactor.
func (m *BackpressureManager) RecordBackpressureSignal() {
	if m == nil || !m.config.Enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutive++
	m.lastSignal = m.now()

	if m.config.gated() {
		factor := m.config.SoftFactor
		if m.consecutive >= m.config.SevereThreshold {
			factor = m.config.SevereFactor
		}
		next := int(math.Floor(float64(m.permitsMax) * factor))
		if next < m.config.Floor {
			next = m.config.Floor
		}
		if next != m.permitsMax {
			m.log.Warn("backpressure: shrinking permits",
				"from", m.permitsMax,
				"to", next,
				"consecutive_signals", m.consecutive,
				"severity", m.severityLocked(),
			)
			m.permitsMax = next
			m.pool.resize(next)
		}
	}
	m.notifyLocked()
}

// RecordHealthySignal registers a successful response. Once DecayQuiet has
// passed since the last overload signal the counter resets and the pool grows
// by RecoveryStep; growth repeats at most once per quiet window and never
// exceeds InitialMax.
func (m *BackpressureManager) RecordHealthySignal() {
	if m == nil || !m.config.Enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSignal) <= m.config.DecayQuiet {
		return
	}

	changed := false
	if m.consecutive > 0 {
		m.consecutive = 0
		changed = true
	}
	if m.config.gated() && m.permitsMax < m.config.InitialMax &&
		(changed || now.Sub(m.lastGrowth) > m.config.DecayQuiet) {
		next := m.permitsMax + m.config.RecoveryStep
		if next > m.config.InitialMax {
			next = m.config.InitialMax
		}
		m.log.Info("backpressure: recovering permits", "from", m.permitsMax, "to", next)
		m.permitsMax = next
		m.lastGrowth = now
		m.pool.resize(next)
		changed = true
	}
	if changed {
		m.notifyLocked()
	}
}

// GetState returns a snapshot of the current state.
func (m *BackpressureManager) GetState() BackpressureState {
	if m == nil {
		return BackpressureState{Severity: SeverityHealthy}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *BackpressureManager) stateLocked() BackpressureState {
	return BackpressureState{
		Severity:           m.severityLocked(),
		PermitsMax:         m.permitsMax,
		ConsecutiveSignals: m.consecutive,
	}
}

func (m *BackpressureManager) severityLocked() Severity {
	switch {
	case m.consecutive == 0:
		return SeverityHealthy
	case m.consecutive < m.config.SevereThreshold:
		return SeveritySoft
	default:
		return SeveritySevere
	}
}

func (m *BackpressureManager) notifyLocked() {
	if m.observer != nil {
		m.observer(m.stateLocked())
	}
}

// InFlight returns the number of permits currently held.
func (m *BackpressureManager) InFlight() int {
	if m == nil || m.pool == nil {
		return 0
	}
	return m.pool.held()
}

// permitPool is a counting semaphore whose capacity can change while permits
// are held. Shrinking never revokes held permits; new acquirers wait until
// the number held drops below the new capacity.
type permitPool struct {
	mu      sync.Mutex
	max     int
	inUse   int
	waiters []chan struct{}
}

func newPermitPool(max int) *permitPool {
	return &permitPool{max: max}
}

func (p *permitPool) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.inUse < p.max && len(p.waiters) == 0 {
		p.inUse++
		p.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	p.waiters = append(p.waiters, ready)
	p.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		for idx, waiter := range p.waiters {
			if waiter == ready {
				p.waiters = append(p.waiters[:idx], p.waiters[idx+1:]...)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		p.mu.Unlock()
		// granted concurrently with cancellation: hand the permit back
		p.release()
		return ctx.Err()
	}
}

func (p *permitPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == 0 {
		return
	}
	p.inUse--
	p.grantLocked()
}

func (p *permitPool) resize(max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = max
	p.grantLocked()
}

func (p *permitPool) held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

func (p *permitPool) grantLocked() {
	for p.inUse < p.max && len(p.waiters) > 0 {
		next := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.inUse++
		close(next)
	}
}
