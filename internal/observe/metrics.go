// Package observe provides application-wide observability primitives for
// vadbridge: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware for the operational endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vadbridge metrics.
const meterName = "github.com/MrWong99/vadbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FrameDuration tracks per-frame processing latency (engine inference
	// plus boundary-state bookkeeping).
	FrameDuration metric.Float64Histogram

	// DeliveryDuration tracks how long one callback delivery takes, including
	// the foreign callback itself.
	DeliveryDuration metric.Float64Histogram

	// --- Counters ---

	// EventsDelivered counts events handed to a registered callback. Use with
	// attribute: attribute.String("type", ...)
	EventsDelivered metric.Int64Counter

	// EventsDropped counts events discarded because no callback was
	// registered at snapshot time. Use with attribute:
	//   attribute.String("type", ...)
	EventsDropped metric.Int64Counter

	// SpeechSegments counts finished speech segments. Use with attribute:
	//   attribute.String("outcome", "speech"|"misfire")
	SpeechSegments metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts inference-engine failures. Use with attribute:
	//   attribute.String("op", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions in the registry.
	ActiveSessions metric.Int64UpDownCounter

	// ListeningSessions tracks the number of sessions currently accepting
	// audio.
	ListeningSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for frame-level audio latencies. A 512-sample frame at 16 kHz is 32 ms, so
// anything past the first few buckets means the engine is falling behind.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("vadbridge.frame.duration",
		metric.WithDescription("Latency of processing one audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DeliveryDuration, err = m.Float64Histogram("vadbridge.delivery.duration",
		metric.WithDescription("Latency of one callback delivery."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EventsDelivered, err = m.Int64Counter("vadbridge.events.delivered",
		metric.WithDescription("Total events delivered to callbacks by event type."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("vadbridge.events.dropped",
		metric.WithDescription("Total events dropped because no callback was registered."),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegments, err = m.Int64Counter("vadbridge.speech.segments",
		metric.WithDescription("Total finished speech segments by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("vadbridge.engine.errors",
		metric.WithDescription("Total inference engine failures by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vadbridge.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.ListeningSessions, err = m.Int64UpDownCounter("vadbridge.listening_sessions",
		metric.WithDescription("Number of sessions currently accepting audio."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vadbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEventDelivered records one delivered event of the given type.
func (m *Metrics) RecordEventDelivered(ctx context.Context, eventType string) {
	m.EventsDelivered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordEventDropped records one event dropped for lack of a callback.
func (m *Metrics) RecordEventDropped(ctx context.Context, eventType string) {
	m.EventsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordSegment records one finished speech segment with the given outcome
// ("speech" or "misfire").
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.SpeechSegments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEngineError records one engine failure for the given operation.
func (m *Metrics) RecordEngineError(ctx context.Context, op string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
