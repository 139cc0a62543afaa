package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// ReconnectConfig configures the reconnection policy.
type ReconnectConfig struct {
	// Retries is the maximum number of reconnection attempts.
	// Default: 3
	Retries int

	// InitialBackoff is the delay before the first retry.
	// Default: 500 milliseconds
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	// Default: 10 seconds
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied after each attempt.
	// Default: 2.0
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	// Default: 0.1
	Jitter float64

	// OnAttempt is called before each attempt (for logging).
	OnAttempt func(attempt int)
}

// DefaultReconnectConfig provides reasonable defaults.
var DefaultReconnectConfig = ReconnectConfig{
	Retries:        3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// Reconnector retries a connection probe a bounded number of times with
// exponential backoff and jitter.
type Reconnector struct {
	cfg ReconnectConfig
}

// NewReconnector creates a reconnector.
func NewReconnector(cfg ReconnectConfig) *Reconnector {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultReconnectConfig.Retries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultReconnectConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultReconnectConfig.MaxBackoff
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = DefaultReconnectConfig.BackoffFactor
	}
	return &Reconnector{cfg: cfg}
}

// Run invokes probe until it succeeds or the retry budget is exhausted.
// It returns nil on the first successful probe. Context cancellation stops
// the loop between attempts and during backoff.
func (r *Reconnector) Run(ctx context.Context, probe func(context.Context) error) error {
	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.cfg.OnAttempt != nil {
			r.cfg.OnAttempt(attempt)
		}

		if err := probe(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == r.cfg.Retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(backoff, r.cfg.Jitter)):
		}

		backoff = time.Duration(float64(backoff) * r.cfg.BackoffFactor)
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	return fmt.Errorf("reconnect failed after %d attempts: %w", r.cfg.Retries, lastErr)
}

// withJitter spreads a backoff duration by +/- base*jitter.
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	spread := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + spread)
}
