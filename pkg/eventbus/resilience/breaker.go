package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that open the
	// circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a half-open
	// trial is allowed.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// Clock overrides time.Now for tests.
	Clock func() time.Time

	// OnStateChange is called after every transition (for logging).
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig provides reasonable defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	RecoveryTimeout:  30 * time.Second,
}

// Breaker is a three-state circuit breaker guarding broker calls. While the
// circuit is open, Allow rejects without touching the dependency; once the
// recovery timeout elapses, a single trial call is admitted. A successful
// trial closes the circuit, a failed trial re-opens it and restarts the
// recovery timer. Safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       BreakerState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig.RecoveryTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the recovery timeout elapses, then transitions to half-open
// and admits exactly one trial call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		// One trial is in flight; hold the door for everyone else.
		return false
	default: // BreakerOpen
		if b.cfg.Clock().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return false
		}
		b.transition(BreakerHalfOpen)
		return true
	}
}

// RecordSuccess notes a successful call, closing the circuit and resetting
// the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure notes a failed call. Reaching the threshold of consecutive
// failures opens the circuit; a failed half-open trial re-opens it
// immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Clock()
	b.failures++
	b.lastFailure = now

	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.cfg.FailureThreshold) {
		b.openedAt = now
		b.transition(BreakerOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastFailure returns when the most recent failure was recorded.
func (b *Breaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// transition updates the state. Callers hold the lock.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
