// Package observe holds the telemetry shared by every conversation: the
// novo.* OpenTelemetry instruments, tracing helpers, trace-aware loggers and
// the HTTP middleware in front of the conversation endpoint.
//
// Instruments are recorded through the OpenTelemetry Metrics API. [Init]
// bridges them into a Prometheus registry that the server exposes on
// /metrics. [DefaultMetrics] binds to the global meter provider; tests use
// [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all NoVo metrics.
const meterName = "github.com/novo-avatar/novo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks how long connecting the transcription stream takes.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// VisionDuration tracks image description latency.
	VisionDuration metric.Float64Histogram

	// ReplyDuration tracks the time from a completed user turn to the reply
	// audio being handed to playback.
	ReplyDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TurnsCompleted counts finalized user turns. Use with attribute:
	//   attribute.String("outcome", "generated"|"dropped"|"action")
	TurnsCompleted metric.Int64Counter

	// BargeIns counts interruptions of an in-flight reply.
	BargeIns metric.Int64Counter

	// IngestBytes counts audio bytes forwarded to the transcription stream.
	IngestBytes metric.Int64Counter

	// IngestDrops counts audio frames discarded under backpressure.
	IngestDrops metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CircuitTransitions counts circuit breaker state changes. Attributes:
	// provider, kind, state (the new state).
	CircuitTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConversations tracks sessions with a live transcription stream.
	ActiveConversations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request time, or connection time for
	// WebSocket upgrades. Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "novo.stt.duration", "Latency of connecting the transcription stream."},
		{&met.LLMDuration, "novo.llm.duration", "Latency of LLM inference."},
		{&met.TTSDuration, "novo.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.VisionDuration, "novo.vision.duration", "Latency of camera image description."},
		{&met.ReplyDuration, "novo.reply.duration", "Time from a completed turn to reply audio."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&met.ProviderRequests, "novo.provider.requests", "Provider API requests by provider, kind and status.", ""},
		{&met.TurnsCompleted, "novo.turns.completed", "Finalized user turns by outcome.", ""},
		{&met.BargeIns, "novo.barge_ins", "Replies interrupted by the user speaking.", ""},
		{&met.IngestBytes, "novo.ingest.bytes", "Audio bytes forwarded to transcription.", "By"},
		{&met.IngestDrops, "novo.ingest.drops", "Audio frames dropped under backpressure.", ""},
		{&met.ProviderErrors, "novo.provider.errors", "Provider failures by provider and kind.", ""},
		{&met.CircuitTransitions, "novo.circuit.transitions", "Circuit breaker state changes by provider, kind and new state.", ""},
	}
	for _, c := range counters {
		opts := []metric.Int64CounterOption{metric.WithDescription(c.desc)}
		if c.unit != "" {
			opts = append(opts, metric.WithUnit(c.unit))
		}
		if *c.dst, err = m.Int64Counter(c.name, opts...); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("novo.active_sessions",
		metric.WithDescription("Open sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConversations, err = m.Int64UpDownCounter("novo.active_conversations",
		metric.WithDescription("Sessions with a live transcription stream."),
	); err != nil {
		return nil, err
	}

	// Connection-scoped durations exceed the latency buckets.
	if met.HTTPRequestDuration, err = m.Float64Histogram("novo.http.request.duration",
		metric.WithDescription("Request latency, or WebSocket connection time, by method and route."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCircuitTransition counts a breaker moving to state.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, provider, kind, state string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}

// RecordTurn counts a finalized turn with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.TurnsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
