// Package observability provides structured logging, metrics, and tracing
// for the event bus.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
// Returns a new logger with event_id, event_type, and source fields.
func EnrichLogger(logger *slog.Logger, eventID, eventType, source string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("source", source),
	)
}

// LogPublish logs a successful publish.
func LogPublish(logger *slog.Logger, eventType, channel string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_type", eventType),
		slog.String("channel", channel),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPublishError logs a failed publish.
func LogPublishError(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("publish failed",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogHandlerError logs a handler failure during dispatch.
func LogHandlerError(logger *slog.Logger, eventType, handler string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.String("error", err.Error()),
	)
}

// LogMalformedMessage logs a frame the dispatch loop could not decode.
func LogMalformedMessage(logger *slog.Logger, channel string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("dropping malformed message",
		slog.String("channel", channel),
		slog.String("error", err.Error()),
	)
}

// LogStateChange logs a bus lifecycle transition.
func LogStateChange(logger *slog.Logger, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("bus state changed",
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogReconnectAttempt logs one reconnection attempt while degraded.
func LogReconnectAttempt(logger *slog.Logger, attempt int) {
	if logger == nil {
		return
	}
	logger.Warn("broker reconnect attempt",
		slog.Int("attempt", attempt),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start)) / float64(time.Millisecond)
	}
}
