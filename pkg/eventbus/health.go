package eventbus

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the coarse health verdict reported by HealthCheck.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is a point-in-time health snapshot.
type Health struct {
	Status          HealthStatus
	BrokerConnected bool
	Subscribers     int
	EventsPublished int64
	LastPublishTime time.Time
}

// Statistics is a point-in-time snapshot of cumulative bus counters.
type Statistics struct {
	TotalPublished   int64
	TotalSubscribers int
	EventsByType     map[string]int64
	AvgPublishTimeMs float64
	AvgHandlerTimeMs float64
	DroppedMessages  int64
	DeadLetters      int
}

// HealthCheck probes the broker and reports the bus condition. A failed
// probe while ready marks the bus degraded and kicks off recovery in the
// background. Safe to call concurrently with publish and dispatch.
func (b *Bus) HealthCheck(ctx context.Context) Health {
	h := Health{Subscribers: b.SubscriberCount()}
	h.EventsPublished, h.LastPublishTime = b.counters.publishSnapshot()

	switch b.State() {
	case StateReady:
		if err := b.cfg.Broker.Ping(ctx); err != nil {
			b.markDegraded(err)
			h.Status = StatusDegraded
			return h
		}
		h.Status = StatusHealthy
		h.BrokerConnected = true
	case StateDegraded:
		// On-demand recovery: a successful probe restores ready even when
		// no background monitor is running.
		if err := b.cfg.Broker.Ping(ctx); err == nil {
			b.compareAndSetState(StateDegraded, StateReady)
			h.Status = StatusHealthy
			h.BrokerConnected = true
			return h
		}
		h.Status = StatusDegraded
	default:
		h.Status = StatusUnhealthy
	}
	return h
}

// Statistics returns cumulative counters since Initialize.
func (b *Bus) Statistics() Statistics {
	s := b.counters.statistics()
	s.TotalSubscribers = b.SubscriberCount()
	s.DeadLetters = b.dlq.len()
	return s
}

// counters aggregates the hot-path metrics behind a single small mutex;
// the network call is never made while it is held.
type counters struct {
	mu           sync.Mutex
	published    int64
	byType       map[string]int64
	publishTotal time.Duration
	handlerRuns  int64
	handlerTotal time.Duration
	dropped      int64
	lastPublish  time.Time
}

func (c *counters) recordPublish(eventType string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
	c.byType[eventType]++
	c.publishTotal += d
	c.lastPublish = time.Now().UTC()
}

func (c *counters) recordHandler(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerRuns++
	c.handlerTotal += d
}

func (c *counters) recordDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func (c *counters) publishSnapshot() (int64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published, c.lastPublish
}

func (c *counters) statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Statistics{
		TotalPublished:  c.published,
		EventsByType:    make(map[string]int64, len(c.byType)),
		DroppedMessages: c.dropped,
	}
	for k, v := range c.byType {
		s.EventsByType[k] = v
	}
	if c.published > 0 {
		s.AvgPublishTimeMs = float64(c.publishTotal.Microseconds()) / float64(c.published) / 1000
	}
	if c.handlerRuns > 0 {
		s.AvgHandlerTimeMs = float64(c.handlerTotal.Microseconds()) / float64(c.handlerRuns) / 1000
	}
	return s
}
