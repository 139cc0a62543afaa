package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/questline/eventbus/pkg/eventbus/broker"
	"github.com/questline/eventbus/pkg/eventbus/event"
	"github.com/questline/eventbus/pkg/eventbus/observability"
)

// dispatchLoop is the single logical consumer loop for the bus instance. It
// never blocks on a handler: every matching handler runs in its own
// supervised goroutine.
func (b *Bus) dispatchLoop(ctx context.Context, sub broker.Subscription) {
	defer close(b.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			b.dispatch(ctx, msg)
		}
	}
}

// dispatch decodes one raw frame and fans it out. Malformed frames are
// dropped, logged, and counted; they never crash the loop.
func (b *Bus) dispatch(ctx context.Context, msg broker.Message) {
	data, err := b.decodeFrame(msg.Payload)
	var env *event.Envelope
	if err == nil {
		env, err = event.Decode(data)
	}
	if err != nil {
		observability.LogMalformedMessage(b.logger, msg.Channel, err)
		b.metrics.RecordDropped(ctx, msg.Channel)
		b.counters.recordDropped()
		return
	}

	for _, s := range b.matchingSubs(env.Type()) {
		b.handlers.Add(1)
		go func(s *Subscription) {
			defer b.handlers.Done()
			b.runHandler(ctx, s, env)
		}(s)
	}
}

// runHandler invokes one handler under supervision: a returned error or a
// panic is logged, recorded in metrics, and appended to the dead-letter
// queue. Shared by the dispatch loop and replay.
func (b *Bus) runHandler(ctx context.Context, s *Subscription, env *event.Envelope) {
	hctx, span := b.spans.StartDispatchSpan(ctx, env.Type(), s.name)
	stop := observability.TimedOperation()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		d := durationFromMs(stop())
		b.counters.recordHandler(d)
		b.metrics.RecordHandler(hctx, env.Type(), s.name, d, err)
		b.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogHandlerError(b.logger, env.Type(), s.name, err)
			b.dlq.append(DeadLetter{
				Envelope: env,
				Handler:  s.name,
				Err:      err,
				Time:     time.Now().UTC(),
			})
			b.metrics.RecordDeadLetter(hctx, env.Type())
		}
	}()
	err = s.handler(hctx, env)
}
