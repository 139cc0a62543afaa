package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/questline/eventbus/pkg/eventbus/event"
	"github.com/questline/eventbus/pkg/eventbus/observability"
)

// channelFor maps an event type or pattern to its broker channel.
func channelFor(eventType string) string {
	return "events." + eventType
}

// Publish validates nothing beyond what the envelope already guaranteed at
// construction: it serializes, consults the rate limiter and circuit
// breaker, writes to the broker, appends to history, and records metrics.
// Serialization and resilience rejections happen before any network call.
func (b *Bus) Publish(ctx context.Context, env *event.Envelope) error {
	if env == nil {
		return &PublishError{Err: errors.New("nil envelope")}
	}
	switch st := b.State(); st {
	case StateReady:
	case StateDegraded:
		return &PublishError{EventType: env.Type(), Err: ErrDegraded}
	case StateShuttingDown, StateClosed:
		return &BusError{Op: "publish", State: st, Err: ErrClosed}
	default:
		return &BusError{Op: "publish", State: st, Err: ErrNotInitialized}
	}

	ctx, span := b.spans.StartPublishSpan(ctx, env.Type(), env.ID())
	stop := observability.TimedOperation()
	var err error
	defer func() { b.spans.EndSpanWithError(span, err) }()

	data, err := env.Encode()
	if err != nil {
		return err
	}
	frame, err := b.encodeFrame(data)
	if err != nil {
		return err
	}

	if !b.limiter.Allow() {
		err = ErrRateLimited
		b.metrics.RecordPublish(ctx, env.Type(), 0, err)
		return &PublishError{EventType: env.Type(), Err: ErrRateLimited}
	}
	if !b.breaker.Allow() {
		err = ErrCircuitOpen
		b.metrics.RecordPublish(ctx, env.Type(), 0, err)
		return &PublishError{EventType: env.Type(), Err: ErrCircuitOpen}
	}

	channel := channelFor(env.Type())
	if perr := b.cfg.Broker.Publish(ctx, channel, frame); perr != nil {
		b.breaker.RecordFailure()
		err = perr
		ms := stop()
		observability.LogPublishError(b.logger, env.Type(), perr)
		b.metrics.RecordPublish(ctx, env.Type(), durationFromMs(ms), perr)
		return &PublishError{EventType: env.Type(), Err: perr}
	}
	b.breaker.RecordSuccess()

	// History failure must not fail a publish the broker already accepted.
	if herr := b.store.Append(ctx, env); herr != nil && b.logger != nil {
		observability.EnrichLogger(b.logger, env.ID(), env.Type(), env.Source()).
			Warn("history append failed", "error", herr.Error())
	}

	ms := stop()
	b.counters.recordPublish(env.Type(), durationFromMs(ms))
	b.metrics.RecordPublish(ctx, env.Type(), durationFromMs(ms), nil)
	observability.LogPublish(b.logger, env.Type(), channel, ms)
	return nil
}

func durationFromMs(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
