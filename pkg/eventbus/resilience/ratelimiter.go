// Package resilience provides the independent guards the bus composes around
// broker access: a sliding-window rate limiter, a three-state circuit
// breaker, and a bounded reconnection policy. Each primitive takes an
// injectable clock so behavior is deterministic under test.
package resilience

import (
	"sync"
	"time"
)

// RateLimiterConfig configures a sliding-window rate limiter.
type RateLimiterConfig struct {
	// MaxEvents is the number of events allowed per window.
	// Default: 1000
	MaxEvents int

	// Window is the sliding window duration.
	// Default: 1 second
	Window time.Duration

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// DefaultRateLimiterConfig provides reasonable defaults.
var DefaultRateLimiterConfig = RateLimiterConfig{
	MaxEvents: 1000,
	Window:    time.Second,
}

// RateLimiter is a sliding-window counter keyed to the whole bus instance.
// It is safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	cfg    RateLimiterConfig
	stamps []time.Time
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultRateLimiterConfig.MaxEvents
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimiterConfig.Window
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RateLimiter{cfg: cfg}
}

// Allow records one event if the window has room and reports whether the
// event may proceed.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Clock()
	l.evict(now)

	if len(l.stamps) >= l.cfg.MaxEvents {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Remaining returns how many events the current window still admits.
func (l *RateLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(l.cfg.Clock())
	return l.cfg.MaxEvents - len(l.stamps)
}

// evict drops timestamps older than the window. Callers hold the lock.
func (l *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for ; i < len(l.stamps); i++ {
		if l.stamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
