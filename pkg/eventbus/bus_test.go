package eventbus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/eventbus/pkg/eventbus"
	"github.com/questline/eventbus/pkg/eventbus/broker"
	"github.com/questline/eventbus/pkg/eventbus/event"
	"github.com/questline/eventbus/pkg/eventbus/history"
	"github.com/questline/eventbus/pkg/eventbus/resilience"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBus(t *testing.T, mutate func(*eventbus.Config), brokerCfg broker.ChannelBrokerConfig) (*eventbus.Bus, *broker.ChannelBroker) {
	t.Helper()
	cb := broker.NewChannelBroker(brokerCfg)
	cfg := eventbus.Config{Broker: cb}
	if mutate != nil {
		mutate(&cfg)
	}
	bus, err := eventbus.New(cfg)
	require.NoError(t, err)
	require.NoError(t, bus.Initialize(context.Background()))
	t.Cleanup(func() { _ = bus.Shutdown(time.Second) })
	return bus, cb
}

func pointsEvent(t *testing.T, points int, opts ...event.Option) *event.Envelope {
	t.Helper()
	opts = append([]event.Option{
		event.WithUserID(42),
		event.WithPayload(map[string]any{"points": points}),
	}, opts...)
	env, err := event.New(event.KindPointsAwarded, "gamification-service", opts...)
	require.NoError(t, err)
	return env
}

func TestLifecycle(t *testing.T) {
	cb := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	bus, err := eventbus.New(eventbus.Config{Broker: cb})
	require.NoError(t, err)
	assert.Equal(t, eventbus.StateUninitialized, bus.State())

	err = bus.Publish(context.Background(), pointsEvent(t, 1))
	var busErr *eventbus.BusError
	require.ErrorAs(t, err, &busErr)
	assert.ErrorIs(t, err, eventbus.ErrNotInitialized)

	require.NoError(t, bus.Initialize(context.Background()))
	assert.Equal(t, eventbus.StateReady, bus.State())

	err = bus.Initialize(context.Background())
	assert.Error(t, err, "double initialize")

	require.NoError(t, bus.Shutdown(time.Second))
	assert.Equal(t, eventbus.StateClosed, bus.State())

	assert.ErrorIs(t, bus.Publish(context.Background(), pointsEvent(t, 1)), eventbus.ErrClosed)
	_, err = bus.Subscribe(context.Background(), "gamification.*", func(context.Context, *event.Envelope) error { return nil })
	assert.ErrorIs(t, err, eventbus.ErrClosed)
	assert.ErrorIs(t, bus.Shutdown(time.Second), eventbus.ErrClosed)
	assert.ErrorIs(t, bus.Initialize(context.Background()), eventbus.ErrClosed)
}

func TestInitializeFailedProbe(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	cb := broker.NewChannelBroker(broker.ChannelBrokerConfig{
		PingHook: func() error {
			if down.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	})
	bus, err := eventbus.New(eventbus.Config{Broker: cb})
	require.NoError(t, err)

	err = bus.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, eventbus.StateUninitialized, bus.State(), "no partial state on failed probe")

	down.Store(false)
	require.NoError(t, bus.Initialize(context.Background()))
	assert.Equal(t, eventbus.StateReady, bus.State())
	require.NoError(t, bus.Shutdown(time.Second))
}

func TestEndToEnd(t *testing.T) {
	bus, _ := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	var invocations atomic.Int64
	received := make(chan *event.Envelope, 4)
	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			invocations.Add(1)
			received <- env
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 50)))

	select {
	case env := <-received:
		assert.Equal(t, "gamification.points_awarded", env.Type())
		require.NotNil(t, env.UserID())
		assert.Equal(t, int64(42), *env.UserID())
		assert.EqualValues(t, 50, env.Payload()["points"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), invocations.Load(), "exactly one invocation")
}

func TestWildcardSubscription(t *testing.T) {
	bus, _ := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	received := make(chan string, 8)
	_, err := bus.Subscribe(context.Background(), "gamification.*",
		func(ctx context.Context, env *event.Envelope) error {
			received <- env.Type()
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 10)))

	achievement, err := event.New(event.KindAchievementUnlocked, "gamification-service",
		event.WithUserID(42),
		event.WithPayload(map[string]any{"achievement": "first_blood"}))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), achievement))

	story, err := event.New(event.KindStoryStarted, "narrative-service",
		event.WithUserID(42),
		event.WithPayload(map[string]any{"story_id": "intro"}))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), story))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case typ := <-received:
			got[typ] = true
		case <-time.After(2 * time.Second):
			t.Fatal("wildcard handler missed an event")
		}
	}
	assert.True(t, got["gamification.points_awarded"])
	assert.True(t, got["gamification.achievement_unlocked"])

	select {
	case typ := <-received:
		t.Fatalf("unexpected delivery: %s", typ)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerIsolation(t *testing.T) {
	bus, _ := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	sibling := make(chan struct{}, 1)
	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			return errors.New("downstream rejected the score")
		}, eventbus.WithHandlerName("scoreWriter"))
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			sibling <- struct{}{}
			return nil
		})
	require.NoError(t, err)

	env := pointsEvent(t, 50)
	require.NoError(t, bus.Publish(context.Background(), env))

	select {
	case <-sibling:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling handler did not receive the event")
	}

	require.Eventually(t, func() bool { return len(bus.DeadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
	dl := bus.DeadLetters()[0]
	assert.Equal(t, "scoreWriter", dl.Handler)
	assert.Equal(t, env.ID(), dl.Envelope.ID())
	assert.Contains(t, dl.Err.Error(), "downstream rejected")
	assert.False(t, dl.Time.IsZero())

	stats := bus.DLQStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.ByType["gamification.points_awarded"])
}

func TestHandlerPanicIsDeadLettered(t *testing.T) {
	bus, _ := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			panic("nil map write")
		}, eventbus.WithHandlerName("panicky"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))

	require.Eventually(t, func() bool { return len(bus.DeadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
	dl := bus.DeadLetters()[0]
	assert.Equal(t, "panicky", dl.Handler)
	assert.Contains(t, dl.Err.Error(), "handler panic")
	assert.Contains(t, dl.Err.Error(), "nil map write")
}

func TestRateLimit(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	bus, _ := newTestBus(t, func(cfg *eventbus.Config) {
		cfg.RateLimit = resilience.RateLimiterConfig{MaxEvents: 2, Window: time.Second, Clock: clk.Now}
	}, broker.ChannelBrokerConfig{})

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))
	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 2)))

	err := bus.Publish(context.Background(), pointsEvent(t, 3))
	var pubErr *eventbus.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.ErrorIs(t, err, eventbus.ErrRateLimited)

	clk.Advance(time.Second + time.Millisecond)
	assert.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 4)), "window elapsed")
}

func TestCircuitBreaker(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	var brokerDown atomic.Bool
	var attempts atomic.Int64
	brokerDown.Store(true)

	bus, cb := newTestBus(t, func(cfg *eventbus.Config) {
		cfg.CircuitBreaker = resilience.BreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  30 * time.Second,
			Clock:            clk.Now,
		}
	}, broker.ChannelBrokerConfig{
		PublishHook: func(channel string) error {
			attempts.Add(1)
			if brokerDown.Load() {
				return errors.New("broken pipe")
			}
			return nil
		},
	})

	for i := 0; i < 2; i++ {
		err := bus.Publish(context.Background(), pointsEvent(t, i+1))
		require.Error(t, err)
		assert.NotErrorIs(t, err, eventbus.ErrCircuitOpen)
	}
	assert.Equal(t, int64(2), attempts.Load())
	assert.Equal(t, int64(0), cb.Publishes())

	// Open circuit: rejected without a broker call.
	err := bus.Publish(context.Background(), pointsEvent(t, 3))
	assert.ErrorIs(t, err, eventbus.ErrCircuitOpen)
	assert.Equal(t, int64(2), attempts.Load(), "no broker call while open")

	// Recovery timeout elapses, broker is back: the half-open trial closes
	// the circuit.
	clk.Advance(31 * time.Second)
	brokerDown.Store(false)
	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 4)))
	assert.Equal(t, int64(1), cb.Publishes())
	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 5)))
}

func TestReplayEvents(t *testing.T) {
	store := history.NewMemoryStore(0)
	bus, _ := newTestBus(t, func(cfg *eventbus.Config) {
		cfg.History = store
		cfg.RateLimit = resilience.RateLimiterConfig{MaxEvents: 1, Window: time.Hour}
	}, broker.ChannelBrokerConfig{})

	base := time.Now().UTC().Add(-10 * time.Minute)
	seed := func(kind event.Kind, offset time.Duration, points int) *event.Envelope {
		env, err := event.New(kind, "gamification-service",
			event.WithUserID(42),
			event.WithTimestamp(base.Add(offset)),
			event.WithPayload(map[string]any{"points": points}))
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), env))
		return env
	}
	// Seeded out of order on purpose.
	seed(event.KindPointsAwarded, 4*time.Minute, 40)
	seed(event.KindPointsAwarded, 1*time.Minute, 10)
	old := seed(event.KindPointsAwarded, 0, 5)
	seed(event.KindAchievementUnlocked, 2*time.Minute, 0)

	var got []*event.Envelope
	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			got = append(got, env)
			return nil
		})
	require.NoError(t, err)

	// Exhaust the rate limiter first: replay must not consult it. The
	// analytics type does not match the handler above.
	tracked := func() *event.Envelope {
		env, err := event.New(event.KindAnalyticsTracked, "analytics-service",
			event.WithPayload(map[string]any{"metric": "replay_test"}))
		require.NoError(t, err)
		return env
	}
	require.NoError(t, bus.Publish(context.Background(), tracked()))
	assert.ErrorIs(t, bus.Publish(context.Background(), tracked()), eventbus.ErrRateLimited)

	since := base.Add(30 * time.Second)
	n, err := bus.ReplayEvents(context.Background(), []string{"gamification.points_awarded"}, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, got, 2)
	assert.EqualValues(t, 10, got[0].Payload()["points"])
	assert.EqualValues(t, 40, got[1].Payload()["points"])
	for _, env := range got {
		assert.False(t, env.Timestamp().Before(since))
		assert.NotEqual(t, old.ID(), env.ID())
	}
}

func TestUnsubscribeReleasesPattern(t *testing.T) {
	bus, _ := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	first := make(chan struct{}, 4)
	second := make(chan struct{}, 4)
	sub1, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error { first <- struct{}{}; return nil })
	require.NoError(t, err)
	sub2, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error { second <- struct{}{}; return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, bus.SubscriberCount())

	require.NoError(t, sub1.Unsubscribe(context.Background()))
	require.NoError(t, sub1.Unsubscribe(context.Background()), "idempotent")
	assert.Equal(t, 1, bus.SubscriberCount())

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining handler did not receive the event")
	}
	select {
	case <-first:
		t.Fatal("unsubscribed handler was invoked")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, sub2.Unsubscribe(context.Background()))
	assert.Equal(t, 0, bus.SubscriberCount())
	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 2)))
	select {
	case <-second:
		t.Fatal("released pattern still delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDegradedFailsFast(t *testing.T) {
	var down atomic.Bool
	bus, _ := newTestBus(t, func(cfg *eventbus.Config) {
		cfg.Reconnect = resilience.ReconnectConfig{
			Retries:        5,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}
	}, broker.ChannelBrokerConfig{
		PingHook: func() error {
			if down.Load() {
				return errors.New("connection reset")
			}
			return nil
		},
	})

	h := bus.HealthCheck(context.Background())
	assert.Equal(t, eventbus.StatusHealthy, h.Status)
	assert.True(t, h.BrokerConnected)

	down.Store(true)
	h = bus.HealthCheck(context.Background())
	assert.Equal(t, eventbus.StatusDegraded, h.Status)
	assert.Equal(t, eventbus.StateDegraded, bus.State())

	assert.ErrorIs(t, bus.Publish(context.Background(), pointsEvent(t, 1)), eventbus.ErrDegraded)

	down.Store(false)
	h = bus.HealthCheck(context.Background())
	assert.Equal(t, eventbus.StatusHealthy, h.Status)
	assert.Equal(t, eventbus.StateReady, bus.State())
	assert.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 2)))
}

func TestBackgroundMonitorRecovers(t *testing.T) {
	var down atomic.Bool
	bus, _ := newTestBus(t, func(cfg *eventbus.Config) {
		cfg.ProbeInterval = 10 * time.Millisecond
		cfg.Reconnect = resilience.ReconnectConfig{
			Retries:        10,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}
	}, broker.ChannelBrokerConfig{
		PingHook: func() error {
			if down.Load() {
				return errors.New("connection reset")
			}
			return nil
		},
	})

	down.Store(true)
	require.Eventually(t, func() bool { return bus.State() == eventbus.StateDegraded }, 2*time.Second, 5*time.Millisecond)

	down.Store(false)
	require.Eventually(t, func() bool { return bus.State() == eventbus.StateReady }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownRightAfterInitializeStopsMonitor(t *testing.T) {
	cb := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	bus, err := eventbus.New(eventbus.Config{
		Broker:        cb,
		ProbeInterval: time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Initialize(context.Background()))
	require.NoError(t, bus.Shutdown(time.Second))
	assert.Equal(t, eventbus.StateClosed, bus.State())
}

func TestShutdownDrainsHandlers(t *testing.T) {
	cb := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	bus, err := eventbus.New(eventbus.Config{Broker: cb})
	require.NoError(t, err)
	require.NoError(t, bus.Initialize(context.Background()))

	var finished atomic.Bool
	started := make(chan struct{})
	_, err = bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, bus.Shutdown(time.Second))
	assert.True(t, finished.Load(), "shutdown waited for the in-flight handler")
}

func TestShutdownTimeout(t *testing.T) {
	cb := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	bus, err := eventbus.New(eventbus.Config{Broker: cb})
	require.NoError(t, err)
	require.NoError(t, bus.Initialize(context.Background()))

	release := make(chan struct{})
	started := make(chan struct{})
	_, err = bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error {
			close(started)
			<-release
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	err = bus.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, eventbus.StateClosed, bus.State())
	close(release)
}

func TestStatistics(t *testing.T) {
	bus, _ := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	done := make(chan struct{}, 4)
	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error { done <- struct{}{}; return nil })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))
	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 2)))
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not invoked")
		}
	}

	stats := bus.Statistics()
	assert.Equal(t, int64(2), stats.TotalPublished)
	assert.Equal(t, 1, stats.TotalSubscribers)
	assert.Equal(t, int64(2), stats.EventsByType["gamification.points_awarded"])
	assert.Equal(t, int64(0), stats.DroppedMessages)

	h := bus.HealthCheck(context.Background())
	assert.Equal(t, eventbus.StatusHealthy, h.Status)
	assert.Equal(t, int64(2), h.EventsPublished)
	assert.False(t, h.LastPublishTime.IsZero())
}

func TestEncryptedEndToEnd(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	bus, cb := newTestBus(t, func(cfg *eventbus.Config) {
		cfg.Compression = true
		cfg.EncryptionKey = key
	}, broker.ChannelBrokerConfig{})

	received := make(chan *event.Envelope, 1)
	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error { received <- env; return nil })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 50)))
	select {
	case env := <-received:
		assert.EqualValues(t, 50, env.Payload()["points"])
	case <-time.After(2 * time.Second):
		t.Fatal("encrypted frame never arrived")
	}

	// A frame that does not decrypt counts as malformed, not as a crash.
	require.NoError(t, cb.Publish(context.Background(), "events.gamification.points_awarded", []byte("plaintext noise")))
	require.Eventually(t, func() bool { return bus.Statistics().DroppedMessages == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	bus, cb := newTestBus(t, nil, broker.ChannelBrokerConfig{})

	invoked := make(chan struct{}, 1)
	_, err := bus.Subscribe(context.Background(), "gamification.points_awarded",
		func(ctx context.Context, env *event.Envelope) error { invoked <- struct{}{}; return nil })
	require.NoError(t, err)

	// Junk written straight to the broker must not crash the loop.
	require.NoError(t, cb.Publish(context.Background(), "events.gamification.points_awarded", []byte("not json")))
	require.Eventually(t, func() bool { return bus.Statistics().DroppedMessages == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), pointsEvent(t, 1)))
	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after malformed frame")
	}
}
