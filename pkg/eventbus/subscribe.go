package eventbus

import (
	"context"
	"errors"
	"reflect"
	"runtime"

	"github.com/questline/eventbus/pkg/eventbus/broker"
	"github.com/questline/eventbus/pkg/eventbus/event"
)

// Handler processes a delivered envelope. A returned error or panic is
// contained: logged, dead-lettered, and invisible to sibling handlers.
type Handler func(ctx context.Context, env *event.Envelope) error

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	name string
}

// WithHandlerName sets the handler identity recorded in logs and the
// dead-letter queue. Defaults to the handler's function name.
func WithHandlerName(name string) SubscribeOption {
	return func(c *subscribeConfig) { c.name = name }
}

// Subscription is a live handler registration. Handlers are not comparable,
// so the handle is the way to remove one.
type Subscription struct {
	bus     *Bus
	pattern string
	name    string
	handler Handler
}

// Pattern returns the pattern this subscription was registered under.
func (s *Subscription) Pattern() string { return s.pattern }

// HandlerName returns the handler identity used in logs and dead letters.
func (s *Subscription) HandlerName() string { return s.name }

// Unsubscribe removes the handler. When the last handler for a pattern
// leaves, the broker-level pattern subscription is released. Idempotent.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s)
}

// Subscribe registers a handler under an exact event type or a prefix
// wildcard such as "gamification.*". The broker-level pattern subscription
// is acquired when the first handler for the pattern registers. Overlapping
// patterns each get their own delivery.
func (b *Bus) Subscribe(ctx context.Context, pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	if pattern == "" {
		return nil, &SubscribeError{Pattern: pattern, Err: errors.New("empty pattern")}
	}
	if h == nil {
		return nil, &SubscribeError{Pattern: pattern, Err: errors.New("nil handler")}
	}

	cfg := subscribeConfig{name: funcName(h)}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateReady, StateDegraded:
	default:
		return nil, &BusError{Op: "subscribe", State: b.state, Err: stateSentinel(b.state)}
	}

	if _, ok := b.subs[pattern]; !ok {
		if err := b.brokerSub.Subscribe(ctx, channelFor(pattern)); err != nil {
			return nil, &SubscribeError{Pattern: pattern, Err: err}
		}
		b.subs[pattern] = make(map[*Subscription]struct{})
	}
	sub := &Subscription{bus: b, pattern: pattern, name: cfg.name, handler: h}
	b.subs[pattern][sub] = struct{}{}
	return sub, nil
}

func (b *Bus) unsubscribe(ctx context.Context, s *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		return &BusError{Op: "unsubscribe", State: b.state, Err: ErrClosed}
	}

	set, ok := b.subs[s.pattern]
	if !ok {
		return nil
	}
	if _, ok := set[s]; !ok {
		return nil
	}
	delete(set, s)
	if len(set) > 0 {
		return nil
	}
	delete(b.subs, s.pattern)
	if b.state == StateShuttingDown {
		return nil
	}
	if err := b.brokerSub.Unsubscribe(ctx, channelFor(s.pattern)); err != nil {
		return &SubscribeError{Pattern: s.pattern, Err: err}
	}
	return nil
}

// matchingSubs snapshots the subscriptions whose pattern matches eventType,
// by exact match or prefix wildcard.
func (b *Bus) matchingSubs(eventType string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Subscription
	for pattern, set := range b.subs {
		if pattern != eventType && !broker.MatchPattern(pattern, eventType) {
			continue
		}
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

func stateSentinel(s State) error {
	if s == StateClosed || s == StateShuttingDown {
		return ErrClosed
	}
	return ErrNotInitialized
}

func funcName(h Handler) string {
	if name := runtime.FuncForPC(reflect.ValueOf(h).Pointer()).Name(); name != "" {
		return name
	}
	return "handler"
}
