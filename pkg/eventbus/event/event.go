// Package event defines the validated, serializable envelope that every
// message on the bus is wrapped in.
//
// An Envelope is immutable once constructed. Construction goes through New,
// which derives the event type, category, and priority from a Kind (a closed
// set of tagged variants), applies defaults, and validates the result at the
// requested ValidationLevel. Payload maps are copied on the way in and on the
// way out, so callers can never mutate a published envelope.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders events for delivery-sensitive subscribers.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Category groups event types by owning domain.
type Category string

const (
	CategoryGamification Category = "GAMIFICATION"
	CategoryNarrative    Category = "NARRATIVE"
	CategoryUser         Category = "USER"
	CategoryAdmin        Category = "ADMIN"
	CategorySystem       Category = "SYSTEM"
	CategoryCore         Category = "CORE"
)

// Class distinguishes domain events (tied to a user) from system and
// integration events (which may have no user at all).
type Class string

const (
	ClassDomain      Class = "domain"
	ClassSystem      Class = "system"
	ClassIntegration Class = "integration"
)

// ValidationLevel selects how strictly New checks an envelope.
type ValidationLevel int

const (
	// Lenient runs only structural checks: non-empty ID, type, and source,
	// and a valid timestamp.
	Lenient ValidationLevel = iota

	// Normal adds payload serializability and user ID sanity. This is the
	// default level.
	Normal

	// Strict adds payload size (10 KB), timestamp freshness (1 hour), and
	// positive user ID checks.
	Strict
)

func (l ValidationLevel) String() string {
	switch l {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	default:
		return "normal"
	}
}

// Metadata carries trace and origin context alongside the payload.
// CreatedAt is always set; everything else is optional.
type Metadata struct {
	CreatedAt     time.Time `json:"created_at"`
	SourceVersion string    `json:"source_version,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
}

// Envelope is the unit of communication on the bus. All fields are fixed at
// construction time; accessors that return reference types return copies.
type Envelope struct {
	id            string
	eventType     string
	timestamp     time.Time
	source        string
	userID        *int64
	correlationID string
	priority      Priority
	payload       map[string]any
	metadata      Metadata
	category      Category

	kind Kind
}

// ID returns the globally unique event identifier.
func (e *Envelope) ID() string { return e.id }

// Type returns the dot-namespaced event type, e.g. "gamification.points_awarded".
func (e *Envelope) Type() string { return e.eventType }

// Timestamp returns the event occurrence time (UTC).
func (e *Envelope) Timestamp() time.Time { return e.timestamp }

// Source returns the producing service name.
func (e *Envelope) Source() string { return e.source }

// UserID returns the user the event concerns, or nil for system and
// integration events.
func (e *Envelope) UserID() *int64 {
	if e.userID == nil {
		return nil
	}
	id := *e.userID
	return &id
}

// CorrelationID returns the cross-event tracing identifier, if any.
func (e *Envelope) CorrelationID() string { return e.correlationID }

// Priority returns the delivery priority fixed by the event kind.
func (e *Envelope) Priority() Priority { return e.priority }

// Payload returns a copy of the payload map.
func (e *Envelope) Payload() map[string]any { return copyPayload(e.payload) }

// Metadata returns the envelope metadata.
func (e *Envelope) Metadata() Metadata { return e.metadata }

// Category returns the domain category fixed by the event kind.
func (e *Envelope) Category() Category { return e.category }

// Kind returns the variant this envelope was constructed from. Envelopes
// decoded off the wire with an unregistered type carry a synthetic kind with
// no domain checks.
func (e *Envelope) Kind() Kind { return e.kind }

// Option configures envelope construction.
type Option func(*envelopeConfig)

type envelopeConfig struct {
	id            string
	timestamp     time.Time
	source        string
	userID        *int64
	correlationID string
	payload       map[string]any
	metadata      Metadata
	level         ValidationLevel
}

// WithID sets a specific event ID (default: generated UUID).
func WithID(id string) Option {
	return func(cfg *envelopeConfig) { cfg.id = id }
}

// WithTimestamp sets the occurrence time (default: now, UTC).
func WithTimestamp(t time.Time) Option {
	return func(cfg *envelopeConfig) { cfg.timestamp = t.UTC() }
}

// WithUserID attaches the user the event concerns.
func WithUserID(id int64) Option {
	return func(cfg *envelopeConfig) { cfg.userID = &id }
}

// WithCorrelationID sets the cross-event tracing identifier.
func WithCorrelationID(id string) Option {
	return func(cfg *envelopeConfig) { cfg.correlationID = id }
}

// WithPayload sets the payload map. The map is copied.
func WithPayload(payload map[string]any) Option {
	return func(cfg *envelopeConfig) { cfg.payload = copyPayload(payload) }
}

// WithMetadata sets envelope metadata. A zero CreatedAt is filled in at
// construction time.
func WithMetadata(md Metadata) Option {
	return func(cfg *envelopeConfig) { cfg.metadata = md }
}

// WithValidation selects the validation level (default: Normal).
func WithValidation(level ValidationLevel) Option {
	return func(cfg *envelopeConfig) { cfg.level = level }
}

// New constructs and validates an envelope for the given kind. The source
// service is required. All validation problems are collected and reported
// together in a single *ValidationError; construction either fully succeeds
// or returns nil.
func New(kind Kind, source string, opts ...Option) (*Envelope, error) {
	now := time.Now().UTC()
	cfg := &envelopeConfig{
		id:        uuid.New().String(),
		timestamp: now,
		source:    source,
		level:     Normal,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.payload == nil {
		cfg.payload = make(map[string]any)
	}
	if cfg.metadata.CreatedAt.IsZero() {
		cfg.metadata.CreatedAt = now
	}

	e := &Envelope{
		id:            cfg.id,
		eventType:     kind.Type(),
		timestamp:     cfg.timestamp,
		source:        cfg.source,
		userID:        cfg.userID,
		correlationID: cfg.correlationID,
		priority:      kind.Priority(),
		payload:       cfg.payload,
		metadata:      cfg.metadata,
		category:      kind.Category(),
		kind:          kind,
	}

	if err := e.Validate(cfg.level); err != nil {
		return nil, err
	}
	return e, nil
}

func copyPayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
