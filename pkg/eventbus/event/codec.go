package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToMap renders the envelope as the wire-format map. Optional fields that are
// absent render as nil so the JSON shape is stable across producers.
func (e *Envelope) ToMap() map[string]any {
	var userID any
	if e.userID != nil {
		userID = *e.userID
	}
	var correlationID any
	if e.correlationID != "" {
		correlationID = e.correlationID
	}

	md := map[string]any{
		"created_at": e.metadata.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	putIfSet(md, "source_version", e.metadata.SourceVersion)
	putIfSet(md, "trace_id", e.metadata.TraceID)
	putIfSet(md, "span_id", e.metadata.SpanID)
	putIfSet(md, "user_agent", e.metadata.UserAgent)
	putIfSet(md, "ip_address", e.metadata.IPAddress)
	putIfSet(md, "request_id", e.metadata.RequestID)

	return map[string]any{
		"event_id":       e.id,
		"event_type":     e.eventType,
		"timestamp":      e.timestamp.UTC().Format(time.RFC3339Nano),
		"source_service": e.source,
		"user_id":        userID,
		"correlation_id": correlationID,
		"priority":       string(e.priority),
		"payload":        copyPayload(e.payload),
		"metadata":       md,
		"category":       string(e.category),
	}
}

// FromMap reconstructs an envelope from its wire-format map. Missing required
// keys and malformed timestamps return a *SerializationError. No validation
// beyond structural decoding is applied; receivers that care should call
// Validate on the result.
func FromMap(m map[string]any) (*Envelope, error) {
	id, err := requireString(m, "event_id")
	if err != nil {
		return nil, err
	}
	eventType, err := requireString(m, "event_type")
	if err != nil {
		return nil, err
	}
	source, err := requireString(m, "source_service")
	if err != nil {
		return nil, err
	}
	timestamp, err := requireTime(m, "timestamp")
	if err != nil {
		return nil, err
	}

	e := &Envelope{
		id:        id,
		eventType: eventType,
		timestamp: timestamp,
		source:    source,
	}

	if v, ok := m["user_id"]; ok && v != nil {
		uid, err := toInt64(v)
		if err != nil {
			return nil, &SerializationError{Field: "user_id", Message: err.Error()}
		}
		e.userID = &uid
	}
	if v, ok := m["correlation_id"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, &SerializationError{Field: "correlation_id", Message: fmt.Sprintf("expected string, got %T", v)}
		}
		e.correlationID = s
	}

	priority, err := parsePriority(m)
	if err != nil {
		return nil, err
	}
	e.priority = priority

	category, err := parseCategory(m)
	if err != nil {
		return nil, err
	}
	e.category = category

	if v, ok := m["payload"]; ok && v != nil {
		payload, ok := v.(map[string]any)
		if !ok {
			return nil, &SerializationError{Field: "payload", Message: fmt.Sprintf("expected map, got %T", v)}
		}
		e.payload = copyPayload(payload)
	} else {
		e.payload = make(map[string]any)
	}

	md, err := parseMetadata(m)
	if err != nil {
		return nil, err
	}
	e.metadata = md

	if kind, ok := KindOf(eventType); ok {
		e.kind = kind
	} else {
		e.kind = syntheticKind(eventType, e.category, e.priority)
	}
	return e, nil
}

// Encode serializes the envelope to its JSON wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e.ToMap())
	if err != nil {
		return nil, &SerializationError{Message: "encode envelope", Err: err}
	}
	return data, nil
}

// Decode parses a JSON wire frame into an envelope.
func Decode(data []byte) (*Envelope, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &SerializationError{Message: "decode envelope", Err: err}
	}
	return FromMap(m)
}

func putIfSet(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func requireString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", &SerializationError{Field: key, Message: "missing required key"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &SerializationError{Field: key, Message: fmt.Sprintf("expected string, got %T", v)}
	}
	if s == "" {
		return "", &SerializationError{Field: key, Message: "must not be empty"}
	}
	return s, nil
}

func requireTime(m map[string]any, key string) (time.Time, error) {
	s, err := requireString(m, key)
	if err != nil {
		return time.Time{}, err
	}
	t, perr := time.Parse(time.RFC3339Nano, s)
	if perr != nil {
		return time.Time{}, &SerializationError{Field: key, Message: "bad timestamp format", Err: perr}
	}
	return t.UTC(), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func parsePriority(m map[string]any) (Priority, error) {
	v, ok := m["priority"]
	if !ok || v == nil {
		return PriorityNormal, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &SerializationError{Field: "priority", Message: fmt.Sprintf("expected string, got %T", v)}
	}
	switch p := Priority(s); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	}
	return "", &SerializationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", s)}
}

func parseCategory(m map[string]any) (Category, error) {
	v, ok := m["category"]
	if !ok || v == nil {
		return CategorySystem, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &SerializationError{Field: "category", Message: fmt.Sprintf("expected string, got %T", v)}
	}
	switch c := Category(s); c {
	case CategoryGamification, CategoryNarrative, CategoryUser, CategoryAdmin, CategorySystem, CategoryCore:
		return c, nil
	}
	return "", &SerializationError{Field: "category", Message: fmt.Sprintf("unknown category %q", s)}
}

func parseMetadata(m map[string]any) (Metadata, error) {
	v, ok := m["metadata"]
	if !ok || v == nil {
		return Metadata{}, &SerializationError{Field: "metadata", Message: "missing required key"}
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return Metadata{}, &SerializationError{Field: "metadata", Message: fmt.Sprintf("expected map, got %T", v)}
	}

	createdAt, err := requireTime(raw, "created_at")
	if err != nil {
		return Metadata{}, &SerializationError{Field: "metadata.created_at", Message: "bad or missing created_at", Err: err}
	}

	md := Metadata{CreatedAt: createdAt}
	md.SourceVersion = optString(raw, "source_version")
	md.TraceID = optString(raw, "trace_id")
	md.SpanID = optString(raw, "span_id")
	md.UserAgent = optString(raw, "user_agent")
	md.IPAddress = optString(raw, "ip_address")
	md.RequestID = optString(raw, "request_id")
	return md, nil
}

func optString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
