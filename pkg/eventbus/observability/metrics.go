package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish attempt with its duration and error status.
	RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordHandler records a handler invocation.
	RecordHandler(ctx context.Context, eventType, handler string, duration time.Duration, err error)

	// RecordDeadLetter records an event entering the dead-letter queue.
	RecordDeadLetter(ctx context.Context, eventType string)

	// RecordDropped records a malformed frame dropped by the dispatch loop.
	RecordDropped(ctx context.Context, channel string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes      metric.Int64Counter
	publishLatency metric.Float64Histogram
	publishErrors  metric.Int64Counter
	handlerRuns    metric.Int64Counter
	handlerLatency metric.Float64Histogram
	deadLetters    metric.Int64Counter
	dropped        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the default OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventbus")

	publishes, err := meter.Int64Counter("eventbus.publishes",
		metric.WithDescription("Number of publish attempts"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("eventbus.publish.latency_ms",
		metric.WithDescription("Publish latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	publishErrors, err := meter.Int64Counter("eventbus.publish.errors",
		metric.WithDescription("Number of failed publishes"),
	)
	if err != nil {
		return nil, err
	}

	handlerRuns, err := meter.Int64Counter("eventbus.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("eventbus.handler.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("eventbus.dead_letters",
		metric.WithDescription("Number of dead-lettered handler failures"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("eventbus.dropped_messages",
		metric.WithDescription("Number of malformed frames dropped"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:      publishes,
		publishLatency: publishLatency,
		publishErrors:  publishErrors,
		handlerRuns:    handlerRuns,
		handlerLatency: handlerLatency,
		deadLetters:    deadLetters,
		dropped:        dropped,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a publish attempt.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.publishErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordHandler records a handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, eventType, handler string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("handler", handler),
		attribute.Bool("success", err == nil),
	}
	m.handlerRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDeadLetter records a dead-lettered failure.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordDropped records a dropped malformed frame.
func (m *otelMetrics) RecordDropped(ctx context.Context, channel string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}
