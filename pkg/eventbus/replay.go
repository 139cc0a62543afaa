package eventbus

import (
	"context"
	"time"
)

// ReplayEvents redelivers history entries to currently registered handlers.
// Only events whose type is in types (all types when empty) and whose
// timestamp is at or after since are delivered, in ascending timestamp
// order. Delivery is a synchronous re-invocation of the dispatch path, not
// a republish: the rate limiter and circuit breaker are not consulted, and
// handler failures dead-letter as usual. The count of redelivered events is
// returned.
func (b *Bus) ReplayEvents(ctx context.Context, types []string, since time.Time) (int, error) {
	switch st := b.State(); st {
	case StateReady, StateDegraded:
	default:
		return 0, &BusError{Op: "replay", State: st, Err: stateSentinel(st)}
	}

	envs, err := b.store.Query(ctx, types, since)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, env := range envs {
		subs := b.matchingSubs(env.Type())
		if len(subs) == 0 {
			continue
		}
		for _, s := range subs {
			b.runHandler(ctx, s, env)
		}
		n++
	}
	return n, nil
}
