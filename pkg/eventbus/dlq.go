package eventbus

import (
	"sync"
	"time"

	"github.com/questline/eventbus/pkg/eventbus/event"
)

// DeadLetter records one failed handler invocation. Dead letters are kept
// for inspection and manual replay; the bus never retries them itself.
type DeadLetter struct {
	Envelope *event.Envelope
	Handler  string
	Err      error
	Time     time.Time
}

// DLQStats is a point-in-time summary of the dead-letter queue.
type DLQStats struct {
	Size   int
	Limit  int
	ByType map[string]int
	Oldest time.Time
	Newest time.Time
}

// deadLetterQueue is append-only and bounded; when full, the oldest entry
// is evicted.
type deadLetterQueue struct {
	mu      sync.Mutex
	limit   int
	entries []DeadLetter
}

func newDeadLetterQueue(limit int) *deadLetterQueue {
	return &deadLetterQueue{limit: limit}
}

func (q *deadLetterQueue) append(dl DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.limit {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, dl)
}

func (q *deadLetterQueue) snapshot() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *deadLetterQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *deadLetterQueue) stats() DLQStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := DLQStats{
		Size:   len(q.entries),
		Limit:  q.limit,
		ByType: make(map[string]int),
	}
	for i, dl := range q.entries {
		if dl.Envelope != nil {
			s.ByType[dl.Envelope.Type()]++
		}
		if i == 0 {
			s.Oldest = dl.Time
		}
		s.Newest = dl.Time
	}
	return s
}

// DeadLetters returns a copy of the dead-letter queue contents, oldest
// first.
func (b *Bus) DeadLetters() []DeadLetter {
	return b.dlq.snapshot()
}

// DLQStats summarizes the dead-letter queue.
func (b *Bus) DLQStats() DLQStats {
	return b.dlq.stats()
}
