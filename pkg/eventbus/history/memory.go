package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/questline/eventbus/pkg/eventbus/event"
)

// MemoryStore is a bounded in-memory history. When full, the oldest entry by
// insertion order is evicted. Suitable for tests and single-instance
// deployments that do not need replay across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*event.Envelope
	max     int
	closed  bool
}

// NewMemoryStore creates a bounded in-memory history.
// maxEntries <= 0 selects the default of 1000.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryStore{max: maxEntries}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, env *event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if len(s.entries) >= s.max {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, env)
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, types []string, since time.Time) ([]*event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	filter := typeFilter(types)
	var out []*event.Envelope
	for _, env := range s.entries {
		if env.Timestamp().Before(since) {
			continue
		}
		if filter != nil {
			if _, ok := filter[env.Type()]; !ok {
				continue
			}
		}
		out = append(out, env)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp().Before(out[j].Timestamp())
	})
	return out, nil
}

// Len implements Store.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.entries), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
