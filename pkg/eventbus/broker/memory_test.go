package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/eventbus/pkg/eventbus/broker"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, channel string
		want             bool
	}{
		{"events.gamification.points_awarded", "events.gamification.points_awarded", true},
		{"events.gamification.points_awarded", "events.gamification.level_reached", false},
		{"events.gamification.*", "events.gamification.points_awarded", true},
		{"events.gamification.*", "events.gamification.achievement_unlocked", true},
		{"events.gamification.*", "events.narrative.story_started", false},
		{"events.gamification.*", "events.gamification", false},
		{"events.*", "events.gamification.points_awarded", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, broker.MatchPattern(tc.pattern, tc.channel),
			"pattern %q vs channel %q", tc.pattern, tc.channel)
	}
}

func receiveOne(t *testing.T, sub broker.Subscription) broker.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return broker.Message{}
	}
}

func TestChannelBrokerDelivery(t *testing.T) {
	b := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "events.gamification.*")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "events.gamification.points_awarded", []byte("a")))
	require.NoError(t, b.Publish(ctx, "events.narrative.story_started", []byte("b")))
	require.NoError(t, b.Publish(ctx, "events.gamification.level_reached", []byte("c")))

	first := receiveOne(t, sub)
	assert.Equal(t, "events.gamification.points_awarded", first.Channel)
	assert.Equal(t, "events.gamification.*", first.Pattern)
	assert.Equal(t, []byte("a"), first.Payload)

	second := receiveOne(t, sub)
	assert.Equal(t, []byte("c"), second.Payload, "per-channel publish order is preserved, non-matching frames skipped")
}

func TestChannelBrokerPatternChanges(t *testing.T) {
	b := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "events.user.registered")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.Subscribe(ctx, "events.admin.*"))
	require.NoError(t, b.Publish(ctx, "events.admin.user_banned", []byte("ban")))
	assert.Equal(t, []byte("ban"), receiveOne(t, sub).Payload)

	require.NoError(t, sub.Unsubscribe(ctx, "events.admin.*"))
	require.NoError(t, b.Publish(ctx, "events.admin.user_banned", []byte("ban2")))
	require.NoError(t, b.Publish(ctx, "events.user.registered", []byte("reg")))
	assert.Equal(t, []byte("reg"), receiveOne(t, sub).Payload, "unsubscribed pattern stops delivering")
}

func TestChannelBrokerFailureHooks(t *testing.T) {
	down := errors.New("connection refused")
	failing := true
	b := broker.NewChannelBroker(broker.ChannelBrokerConfig{
		PublishHook: func(channel string) error {
			if failing {
				return down
			}
			return nil
		},
		PingHook: func() error {
			if failing {
				return down
			}
			return nil
		},
	})
	defer b.Close()
	ctx := context.Background()

	assert.ErrorIs(t, b.Ping(ctx), down)
	assert.ErrorIs(t, b.Publish(ctx, "events.core.service_started", nil), down)
	assert.Equal(t, int64(0), b.Publishes(), "failed publishes never reach the broker")

	failing = false
	assert.NoError(t, b.Ping(ctx))
	assert.NoError(t, b.Publish(ctx, "events.core.service_started", nil))
	assert.Equal(t, int64(1), b.Publishes())
}

func TestChannelBrokerClose(t *testing.T) {
	b := broker.NewChannelBroker(broker.ChannelBrokerConfig{})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "events.*")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok, "message channel closes with the broker")

	assert.ErrorIs(t, b.Publish(ctx, "events.x.y", nil), broker.ErrBrokerClosed)
	_, err = b.Subscribe(ctx, "events.*")
	assert.ErrorIs(t, err, broker.ErrBrokerClosed)
}
