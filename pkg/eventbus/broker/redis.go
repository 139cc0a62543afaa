package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis broker adapter. Either URL or Addrs must
// be set; Addrs plus MasterName selects sentinel topology, multiple Addrs
// without a master name selects cluster.
type RedisConfig struct {
	// URL is a single-node redis:// URL. Takes precedence when set.
	URL string

	// Addrs lists cluster or sentinel endpoints.
	Addrs []string

	// MasterName enables sentinel failover mode.
	MasterName string

	Password string
	DB       int
}

// RedisBroker implements Broker over Redis pub/sub. Channel naming and
// prefix wildcards map directly onto PUBLISH and PSUBSCRIBE.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker connects a Redis broker. The connection is verified by the
// caller via Ping; construction itself does not touch the network.
func NewRedisBroker(cfg RedisConfig) (*RedisBroker, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return &RedisBroker{client: redis.NewClient(opts)}, nil
	}
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis broker needs a URL or at least one address")
	}
	return &RedisBroker{client: redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		MasterName: cfg.MasterName,
		Password:   cfg.Password,
		DB:         cfg.DB,
	})}, nil
}

// Ping implements Broker.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe implements Broker. Every pattern goes through PSUBSCRIBE, which
// accepts exact channel names as degenerate patterns.
func (b *RedisBroker) Subscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	pubsub := b.client.PSubscribe(ctx, patterns...)
	// With no patterns, PSubscribe sends no command and the server sends no
	// confirmation; reading one would block forever. The PubSub still
	// accepts PSubscribe calls made later.
	if len(patterns) > 0 {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("psubscribe: %w", err)
		}
	}

	sub := &redisSub{
		pubsub:   pubsub,
		messages: make(chan Message, 256),
		done:     make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	pubsub   *redis.PubSub
	messages chan Message
	done     chan struct{}
}

func (s *redisSub) Messages() <-chan Message { return s.messages }

func (s *redisSub) Subscribe(ctx context.Context, patterns ...string) error {
	return s.pubsub.PSubscribe(ctx, patterns...)
}

func (s *redisSub) Unsubscribe(ctx context.Context, patterns ...string) error {
	return s.pubsub.PUnsubscribe(ctx, patterns...)
}

func (s *redisSub) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

// pump copies frames from the go-redis channel until Close.
func (s *redisSub) pump() {
	defer close(s.messages)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.messages <- Message{
				Channel: msg.Channel,
				Pattern: msg.Pattern,
				Payload: []byte(msg.Payload),
			}
		}
	}
}
