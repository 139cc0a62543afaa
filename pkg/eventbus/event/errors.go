package event

import (
	"fmt"
	"strings"
)

// ValidationError reports every problem found while validating an envelope.
// Validation is atomic: either the envelope passes all checks or the full
// list of problems is returned at once.
type ValidationError struct {
	EventType string
	Problems  []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event %s: %s", e.EventType, strings.Join(e.Problems, "; "))
}

// SerializationError reports a failure to encode an envelope for transport
// or to decode one off the wire.
type SerializationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("event serialization: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("event serialization: %s", e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
