package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBrokerClosed is returned by operations on a closed ChannelBroker.
var ErrBrokerClosed = errors.New("broker is closed")

// ChannelBrokerConfig configures the in-memory broker, including the failure
// and latency hooks that make resilience tests deterministic.
type ChannelBrokerConfig struct {
	// BufferSize is the per-subscription channel buffer.
	// Default: 256
	BufferSize int

	// PublishHook, when set, is consulted before every publish; a non-nil
	// return fails the publish without delivering anything.
	PublishHook func(channel string) error

	// PingHook, when set, is consulted by Ping; a non-nil return simulates
	// a down broker.
	PingHook func() error

	// PublishLatency delays each publish by a fixed, deterministic amount.
	PublishLatency time.Duration
}

// ChannelBroker is an in-memory Broker. Frames are delivered to each
// matching subscription in publish order over a buffered channel, which
// preserves per-channel FIFO the way a real broker connection does.
type ChannelBroker struct {
	cfg ChannelBrokerConfig

	mu     sync.RWMutex
	subs   map[*channelSub]struct{}
	closed bool

	publishes atomic.Int64
}

// NewChannelBroker creates an in-memory broker.
func NewChannelBroker(cfg ChannelBrokerConfig) *ChannelBroker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &ChannelBroker{
		cfg:  cfg,
		subs: make(map[*channelSub]struct{}),
	}
}

// Ping implements Broker.
func (b *ChannelBroker) Ping(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBrokerClosed
	}
	if b.cfg.PingHook != nil {
		return b.cfg.PingHook()
	}
	return ctx.Err()
}

// Publish implements Broker. The publish counter increments only when the
// frame actually reaches the broker, so tests can assert that a tripped
// circuit breaker short-circuits before any broker call.
func (b *ChannelBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.cfg.PublishHook != nil {
		if err := b.cfg.PublishHook(channel); err != nil {
			return err
		}
	}
	if b.cfg.PublishLatency > 0 {
		select {
		case <-time.After(b.cfg.PublishLatency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.publishes.Add(1)

	frame := append([]byte(nil), payload...)
	for sub := range b.subs {
		sub.deliver(channel, frame)
	}
	return nil
}

// Subscribe implements Broker.
func (b *ChannelBroker) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &channelSub{
		broker:   b,
		patterns: make(map[string]struct{}, len(patterns)),
		messages: make(chan Message, b.cfg.BufferSize),
	}
	for _, p := range patterns {
		sub.patterns[p] = struct{}{}
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Close implements Broker.
func (b *ChannelBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.closeLocked()
	}
	b.subs = make(map[*channelSub]struct{})
	return nil
}

// Publishes returns how many frames reached the broker.
func (b *ChannelBroker) Publishes() int64 {
	return b.publishes.Load()
}

type channelSub struct {
	broker *ChannelBroker

	mu       sync.Mutex
	patterns map[string]struct{}
	messages chan Message
	closed   bool
}

func (s *channelSub) Messages() <-chan Message { return s.messages }

func (s *channelSub) Subscribe(ctx context.Context, patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrBrokerClosed
	}
	for _, p := range patterns {
		s.patterns[p] = struct{}{}
	}
	return nil
}

func (s *channelSub) Unsubscribe(ctx context.Context, patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrBrokerClosed
	}
	for _, p := range patterns {
		delete(s.patterns, p)
	}
	return nil
}

func (s *channelSub) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
	return nil
}

// closeLocked is called by the broker's Close with the broker lock held.
func (s *channelSub) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
}

// deliver queues a frame if any pattern matches. Full buffers drop the frame
// rather than block the publisher.
func (s *channelSub) deliver(channel string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for p := range s.patterns {
		if MatchPattern(p, channel) {
			select {
			case s.messages <- Message{Channel: channel, Pattern: p, Payload: payload}:
			default:
			}
			return
		}
	}
}
