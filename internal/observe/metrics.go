// Package observe provides application-wide observability primitives for
// Charlie: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and [MetricsHandler] serves
// it on /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Charlie metrics.
const meterName = "github.com/MrWong99/charlie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Turn taking ---

	// TurnEnds counts detected ends of turn. Use with attribute:
	//   attribute.String("reason", "silence"|"max_duration"|"manual")
	TurnEnds metric.Int64Counter

	// TurnOutcomes counts pipeline outcomes. Use with attribute:
	//   attribute.String("outcome", "response"|"no_speech"|"failure")
	TurnOutcomes metric.Int64Counter

	// TurnDuration tracks the time from end of turn to the pipeline outcome.
	TurnDuration metric.Float64Histogram

	// UtteranceDuration tracks the length of recorded user utterances.
	UtteranceDuration metric.Float64Histogram

	// StateTransitions counts conversation state changes. Use with
	// attributes "from" and "to".
	StateTransitions metric.Int64Counter

	// Notices counts user-visible notices by "kind".
	Notices metric.Int64Counter

	// --- Providers ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// ResponseDuration tracks reply generation latency (LLM and TTS, or the
	// remote responder).
	ResponseDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by "kind".
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks conversations outside the idle state.
	ActiveConversations metric.Int64UpDownCounter

	// ActiveConnections tracks open voice WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers spoken turns from a short "yes" to the recording
// ceiling.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Turn taking.
	if met.TurnEnds, err = m.Int64Counter("charlie.turn.ends",
		metric.WithDescription("Detected ends of turn by reason."),
	); err != nil {
		return nil, err
	}
	if met.TurnOutcomes, err = m.Int64Counter("charlie.turn.outcomes",
		metric.WithDescription("Pipeline outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("charlie.turn.duration",
		metric.WithDescription("Time from end of turn to pipeline outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("charlie.utterance.duration",
		metric.WithDescription("Length of recorded user utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("charlie.state.transitions",
		metric.WithDescription("Conversation state changes by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.Notices, err = m.Int64Counter("charlie.notices",
		metric.WithDescription("User-visible notices by kind."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.STTDuration, err = m.Float64Histogram("charlie.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("charlie.response.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("charlie.provider.requests",
		metric.WithDescription("Total provider API requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("charlie.provider.errors",
		metric.WithDescription("Total provider errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("charlie.active_conversations",
		metric.WithDescription("Number of conversations outside the idle state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("charlie.active_connections",
		metric.WithDescription("Number of open voice connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("charlie.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

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

// RecordTurn records one processed turn.
func (m *Metrics) RecordTurn(ctx context.Context, reason, outcome string, latency, utterance time.Duration) {
	m.TurnEnds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.TurnOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, latency.Seconds())
	if utterance > 0 {
		m.UtteranceDuration.Record(ctx, utterance.Seconds())
	}
}

// RecordStateTransition records a conversation state change and keeps
// ActiveConversations in step with entering and leaving idle.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
	switch {
	case from == "idle" && to != "idle":
		m.ActiveConversations.Add(ctx, 1)
	case from != "idle" && to == "idle":
		m.ActiveConversations.Add(ctx, -1)
	}
}

// RecordNotice counts a user-visible notice.
func (m *Metrics) RecordNotice(ctx context.Context, kind string) {
	m.Notices.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordProviderCall records the latency and status of one external call.
// kind is "stt" or "response".
func (m *Metrics) RecordProviderCall(ctx context.Context, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	switch kind {
	case "stt":
		m.STTDuration.Record(ctx, d.Seconds())
	case "response":
		m.ResponseDuration.Record(ctx, d.Seconds())
	}
}
