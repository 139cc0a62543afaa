package eventbus

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by the typed errors below. Callers branch on them
// with errors.Is to decide whether a retry makes sense.
var (
	// ErrNotInitialized is returned when the bus is used before Initialize.
	ErrNotInitialized = errors.New("bus is not initialized")

	// ErrClosed is returned by every operation after Shutdown completes.
	ErrClosed = errors.New("bus is closed")

	// ErrDegraded is returned by Publish while the broker is unreachable.
	// Publishes fail fast in this state rather than queue.
	ErrDegraded = errors.New("bus is degraded")

	// ErrRateLimited is returned when the publish rate limit is exceeded.
	ErrRateLimited = errors.New("publish rate limit exceeded")

	// ErrCircuitOpen is returned while the circuit breaker refuses broker
	// calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// BusError is the fatal error class: the bus is in a state where the
// requested operation can never succeed.
type BusError struct {
	Op    string
	State State
	Err   error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("eventbus: %s: %v (state %s)", e.Op, e.Err, e.State)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// PublishError is the non-fatal publish failure: rate limited, circuit open,
// degraded, or rejected by the broker. The caller decides whether to retry.
type PublishError struct {
	EventType string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.EventType, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SubscribeError reports a failed handler registration.
type SubscribeError struct {
	Pattern string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Pattern, e.Err)
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}
