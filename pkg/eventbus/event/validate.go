package event

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxPayloadBytes is the serialized payload ceiling under Strict validation.
	MaxPayloadBytes = 10 * 1024

	// MaxTimestampSkew is how far from now a timestamp may be under Strict
	// validation.
	MaxTimestampSkew = time.Hour
)

// Validate checks the envelope at the given level. Kind-specific payload
// checks run at every level. All problems are collected into a single
// *ValidationError; a nil return means the envelope passed every check.
func (e *Envelope) Validate(level ValidationLevel) error {
	var problems []string

	// Structural checks run at every level.
	if e.id == "" {
		problems = append(problems, "event_id is empty")
	}
	if e.eventType == "" {
		problems = append(problems, "event_type is empty")
	}
	if e.timestamp.IsZero() {
		problems = append(problems, "timestamp is not set")
	}
	if e.source == "" {
		problems = append(problems, "source_service is empty")
	}

	if level >= Normal {
		problems = append(problems, e.validateNormal()...)
	}
	if level >= Strict {
		problems = append(problems, e.validateStrict()...)
	}

	// Kind checks are unconditional: a malformed ban event is malformed no
	// matter how lenient the caller asked to be.
	if e.kind.class == ClassDomain && e.userID == nil {
		problems = append(problems, fmt.Sprintf("user_id is required for domain event %s", e.eventType))
	}
	problems = append(problems, e.kind.checkPayload(e.payload)...)

	if len(problems) > 0 {
		return &ValidationError{EventType: e.eventType, Problems: problems}
	}
	return nil
}

func (e *Envelope) validateNormal() []string {
	var problems []string
	if _, err := json.Marshal(e.payload); err != nil {
		problems = append(problems, fmt.Sprintf("payload is not JSON-serializable: %v", err))
	}
	if e.userID != nil && *e.userID == 0 {
		problems = append(problems, "user_id must not be zero")
	}
	return problems
}

func (e *Envelope) validateStrict() []string {
	var problems []string
	if data, err := json.Marshal(e.payload); err == nil && len(data) > MaxPayloadBytes {
		problems = append(problems, fmt.Sprintf("payload is %d bytes, limit is %d", len(data), MaxPayloadBytes))
	}
	if !e.timestamp.IsZero() {
		if skew := time.Since(e.timestamp); skew > MaxTimestampSkew || skew < -MaxTimestampSkew {
			problems = append(problems, fmt.Sprintf("timestamp %s is more than %s from now", e.timestamp.Format(time.RFC3339), MaxTimestampSkew))
		}
	}
	if e.userID != nil && *e.userID < 0 {
		problems = append(problems, fmt.Sprintf("user_id must be positive, got %d", *e.userID))
	}
	return problems
}
