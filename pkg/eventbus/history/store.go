// Package history persists published envelopes for replay and audit. The
// bus appends on every successful publish; ReplayEvents reads back through
// Query. MemoryStore keeps a bounded in-process ring, SQLiteStore survives
// restarts.
package history

import (
	"context"
	"errors"

	"time"

	"github.com/questline/eventbus/pkg/eventbus/event"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("history store is closed")

// Store is the publish-history persistence interface.
type Store interface {
	// Append records a published envelope.
	Append(ctx context.Context, env *event.Envelope) error

	// Query returns envelopes whose type is in types (empty means all) and
	// whose timestamp is at or after since, sorted ascending by timestamp.
	Query(ctx context.Context, types []string, since time.Time) ([]*event.Envelope, error)

	// Len returns the number of stored envelopes.
	Len(ctx context.Context) (int, error)

	// Close releases the store.
	Close() error
}

// typeFilter builds a membership set; nil means match everything.
func typeFilter(types []string) map[string]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
