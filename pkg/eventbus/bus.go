// Package eventbus is the broker-facing bus runtime: connection lifecycle,
// validated publish, pattern subscriptions with a supervised dispatch loop,
// resilience guards, dead-lettering, replay from history, and health and
// statistics snapshots.
package eventbus

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/questline/eventbus/pkg/eventbus/broker"
	"github.com/questline/eventbus/pkg/eventbus/history"
	"github.com/questline/eventbus/pkg/eventbus/observability"
	"github.com/questline/eventbus/pkg/eventbus/resilience"
)

// State is the bus lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateShuttingDown  State = "shutting_down"
	StateClosed        State = "closed"
)

var errAlreadyInitialized = errors.New("bus already initialized")

// Config configures a Bus.
type Config struct {
	// Broker is the transport. Required. The bus owns it after New and
	// closes it on Shutdown.
	Broker broker.Broker

	// History stores published envelopes for replay and audit.
	// Default: in-memory store holding the last 1000 events.
	History history.Store

	// RateLimit bounds publish throughput across the whole bus instance.
	RateLimit resilience.RateLimiterConfig

	// CircuitBreaker guards broker publishes.
	CircuitBreaker resilience.BreakerConfig

	// Reconnect bounds recovery attempts while the bus is degraded.
	Reconnect resilience.ReconnectConfig

	// DeadLetterLimit bounds the dead-letter queue; the oldest entry is
	// evicted when the queue is full.
	// Default: 1000
	DeadLetterLimit int

	// ProbeInterval enables a background liveness probe that drives the
	// ready/degraded transitions. Zero disables it; HealthCheck still
	// probes on demand.
	ProbeInterval time.Duration

	// Compression gzips serialized envelopes on the wire.
	Compression bool

	// EncryptionKey, when set, must be 32 bytes; wire frames are sealed
	// with AES-256-GCM. Both ends share the key.
	EncryptionKey []byte

	// Logger receives structured bus events. Nil disables logging.
	Logger *slog.Logger

	// Metrics records publish/dispatch instrumentation.
	// Default: the process-wide OpenTelemetry recorder.
	Metrics observability.MetricsRecorder

	// Spans traces publish and dispatch operations.
	// Default: the process-wide OpenTelemetry span manager.
	Spans observability.SpanManager
}

// Bus owns the broker connection and implements publish, subscribe, replay,
// and the background dispatch loop. All methods are safe for concurrent use.
type Bus struct {
	cfg     Config
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	limiter *resilience.RateLimiter
	breaker *resilience.Breaker
	reconn  *resilience.Reconnector
	store   history.Store
	dlq     *deadLetterQueue
	aead    cipher.AEAD

	mu        sync.Mutex
	state     State
	subs      map[string]map[*Subscription]struct{}
	brokerSub broker.Subscription

	runCtx      context.Context
	cancel      context.CancelFunc
	loopDone    chan struct{}
	monitorDone chan struct{}
	handlers    sync.WaitGroup
	recovering  atomic.Bool

	counters counters
}

// New creates a Bus in the uninitialized state. No broker traffic happens
// until Initialize.
func New(cfg Config) (*Bus, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("eventbus: config needs a broker")
	}
	if cfg.History == nil {
		cfg.History = history.NewMemoryStore(0)
	}
	if cfg.DeadLetterLimit <= 0 {
		cfg.DeadLetterLimit = 1000
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetricsRecorder()
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NewSpanManager()
	}

	b := &Bus{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		spans:   cfg.Spans,
		store:   cfg.History,
		dlq:     newDeadLetterQueue(cfg.DeadLetterLimit),
		state:   StateUninitialized,
		subs:    make(map[string]map[*Subscription]struct{}),
	}

	if len(cfg.EncryptionKey) > 0 {
		block, err := aes.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("eventbus: encryption key: %w", err)
		}
		b.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("eventbus: encryption key: %w", err)
		}
	}

	breakerCfg := cfg.CircuitBreaker
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(from, to resilience.BreakerState) {
			if b.logger != nil {
				b.logger.Warn("circuit breaker transition",
					slog.String("from", string(from)),
					slog.String("to", string(to)))
			}
		}
	}
	reconnCfg := cfg.Reconnect
	if reconnCfg.OnAttempt == nil {
		reconnCfg.OnAttempt = func(attempt int) {
			observability.LogReconnectAttempt(b.logger, attempt)
		}
	}

	b.limiter = resilience.NewRateLimiter(cfg.RateLimit)
	b.breaker = resilience.NewBreaker(breakerCfg)
	b.reconn = resilience.NewReconnector(reconnCfg)
	b.counters.byType = make(map[string]int64)
	return b, nil
}

// Initialize probes the broker, opens the message subscription, and starts
// the dispatch loop. A failed probe leaves the bus uninitialized with no
// partial state.
func (b *Bus) Initialize(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateUninitialized:
	case StateClosed:
		b.mu.Unlock()
		return &BusError{Op: "initialize", State: StateClosed, Err: ErrClosed}
	default:
		st := b.state
		b.mu.Unlock()
		return &BusError{Op: "initialize", State: st, Err: errAlreadyInitialized}
	}
	b.state = StateInitializing
	b.mu.Unlock()
	observability.LogStateChange(b.logger, string(StateUninitialized), string(StateInitializing))

	if err := b.cfg.Broker.Ping(ctx); err != nil {
		b.setState(StateUninitialized)
		return &BusError{Op: "initialize", State: StateUninitialized, Err: fmt.Errorf("broker probe: %w", err)}
	}

	sub, err := b.cfg.Broker.Subscribe(ctx)
	if err != nil {
		b.setState(StateUninitialized)
		return &BusError{Op: "initialize", State: StateUninitialized, Err: fmt.Errorf("broker subscribe: %w", err)}
	}

	runCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.brokerSub = sub
	b.runCtx = runCtx
	b.cancel = cancel
	b.loopDone = make(chan struct{})
	if b.cfg.ProbeInterval > 0 {
		b.monitorDone = make(chan struct{})
	}
	b.state = StateReady
	b.mu.Unlock()
	observability.LogStateChange(b.logger, string(StateInitializing), string(StateReady))

	go b.dispatchLoop(runCtx, sub)
	if b.monitorDone != nil {
		go b.monitorLoop(runCtx)
	}
	return nil
}

// Shutdown stops the dispatch loop, waits up to timeout for in-flight
// handler invocations, and closes the broker and history store. After
// Shutdown every bus operation fails with a BusError. A non-nil error means
// handlers were still running when the timeout expired; resources are closed
// regardless.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return &BusError{Op: "shutdown", State: StateClosed, Err: ErrClosed}
	case StateUninitialized:
		b.state = StateClosed
		b.mu.Unlock()
		observability.LogStateChange(b.logger, string(StateUninitialized), string(StateClosed))
		return nil
	}
	from := b.state
	b.state = StateShuttingDown
	sub := b.brokerSub
	cancel := b.cancel
	loopDone := b.loopDone
	monitorDone := b.monitorDone
	b.mu.Unlock()
	observability.LogStateChange(b.logger, string(from), string(StateShuttingDown))

	cancel()
	if sub != nil {
		_ = sub.Close()
	}
	if loopDone != nil {
		<-loopDone
	}
	if monitorDone != nil {
		<-monitorDone
	}

	drained := make(chan struct{})
	go func() {
		b.handlers.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-time.After(timeout):
		err = fmt.Errorf("eventbus: shutdown: handlers still running after %s: %w", timeout, context.DeadlineExceeded)
	}

	if cerr := b.store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("eventbus: shutdown: close history: %w", cerr)
	}
	if cerr := b.cfg.Broker.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("eventbus: shutdown: close broker: %w", cerr)
	}

	b.setState(StateClosed)
	return err
}

// State returns the current lifecycle state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bus) setState(s State) {
	b.mu.Lock()
	from := b.state
	b.state = s
	b.mu.Unlock()
	if from != s {
		observability.LogStateChange(b.logger, string(from), string(s))
	}
}

// compareAndSetState transitions from -> to and reports whether it did.
func (b *Bus) compareAndSetState(from, to State) bool {
	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()
		return false
	}
	b.state = to
	b.mu.Unlock()
	observability.LogStateChange(b.logger, string(from), string(to))
	return true
}

// monitorLoop probes the broker on a ticker and drives the ready/degraded
// transitions.
func (b *Bus) monitorLoop(ctx context.Context) {
	defer close(b.monitorDone)
	ticker := time.NewTicker(b.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch b.State() {
			case StateReady:
				if err := b.cfg.Broker.Ping(ctx); err != nil {
					b.markDegraded(err)
				}
			case StateDegraded:
				b.triggerRecovery(ctx)
			default:
				return
			}
		}
	}
}

func (b *Bus) markDegraded(cause error) {
	if !b.compareAndSetState(StateReady, StateDegraded) {
		return
	}
	if b.logger != nil {
		b.logger.Warn("broker unreachable, bus degraded", slog.String("error", cause.Error()))
	}
	b.triggerRecovery(b.runCtx)
}

// triggerRecovery runs the reconnection policy once in the background. A
// failed run leaves the bus degraded; the monitor ticker or the next
// HealthCheck retries.
func (b *Bus) triggerRecovery(ctx context.Context) {
	if !b.recovering.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer b.recovering.Store(false)
		if err := b.reconn.Run(ctx, b.cfg.Broker.Ping); err != nil {
			if b.logger != nil {
				b.logger.Warn("reconnect failed", slog.String("error", err.Error()))
			}
			return
		}
		b.compareAndSetState(StateDegraded, StateReady)
	}()
}
