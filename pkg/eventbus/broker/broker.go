// Package broker abstracts the message transport under the bus. The bus
// talks to a Broker; production deployments use the Redis adapter, tests and
// embedded single-process setups use the in-memory ChannelBroker.
//
// Channels are named "events.<event_type>". Pattern subscriptions use a
// trailing-star glob ("events.gamification.*") matching every channel that
// shares the prefix.
package broker

import (
	"context"
	"strings"
)

// Message is one raw frame received from a subscription.
type Message struct {
	// Channel the frame was published on.
	Channel string
	// Pattern that matched, or the channel itself for exact subscriptions.
	Pattern string
	// Payload is the opaque frame body.
	Payload []byte
}

// Subscription is an active pattern subscription. Patterns can be added and
// removed while the subscription is live; Messages delivers frames for every
// current pattern until Close.
type Subscription interface {
	// Messages returns the frame stream. The channel is closed by Close.
	Messages() <-chan Message

	// Subscribe adds patterns to the subscription.
	Subscribe(ctx context.Context, patterns ...string) error

	// Unsubscribe removes patterns from the subscription.
	Unsubscribe(ctx context.Context, patterns ...string) error

	// Close tears down the subscription and closes the message channel.
	Close() error
}

// Broker is the transport the bus publishes through.
type Broker interface {
	// Ping probes broker liveness.
	Ping(ctx context.Context) error

	// Publish writes a frame to a channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription for the given patterns.
	Subscribe(ctx context.Context, patterns ...string) (Subscription, error)

	// Close releases the broker connection.
	Close() error
}

// MatchPattern reports whether a channel matches a subscription pattern.
// A pattern either names a channel exactly or ends in ".*", matching every
// channel sharing the prefix before the star.
func MatchPattern(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(channel, prefix+".")
	}
	return pattern == channel
}
