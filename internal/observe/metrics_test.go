package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the data points of an int64 sum keyed by one attribute.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want an int64 sum", name, met.Data)
	}
	out := make(map[string]int64, len(sum.DataPoints))
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.Emit()] += dp.Value
	}
	return out
}

func TestNewMetrics_EveryInstrumentExports(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for _, h := range []metric.Float64Histogram{
		m.STTDuration, m.LLMDuration, m.TTSDuration, m.VisionDuration, m.ReplyDuration, m.HTTPRequestDuration,
	} {
		h.Record(ctx, 0.2)
	}
	for _, c := range []metric.Int64Counter{
		m.ProviderRequests, m.TurnsCompleted, m.BargeIns, m.IngestBytes, m.IngestDrops, m.ProviderErrors, m.CircuitTransitions,
	} {
		c.Add(ctx, 1)
	}
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveConversations.Add(ctx, 1)

	rm := collect(t, reader)
	for _, name := range []string{
		"novo.stt.duration", "novo.llm.duration", "novo.tts.duration", "novo.vision.duration",
		"novo.reply.duration", "novo.http.request.duration",
		"novo.provider.requests", "novo.turns.completed", "novo.barge_ins", "novo.ingest.bytes",
		"novo.ingest.drops", "novo.provider.errors", "novo.circuit.transitions",
		"novo.active_sessions", "novo.active_conversations",
	} {
		if findMetric(rm, name) == nil {
			t.Errorf("instrument %s not exported", name)
		}
	}
	if unit := findMetric(rm, "novo.ingest.bytes").Unit; unit != "By" {
		t.Errorf("novo.ingest.bytes unit = %q, want By", unit)
	}
}

func TestLatencyHistogramBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// A 300 ms synthesis and a 4 s completion.
	m.TTSDuration.Record(ctx, 0.3, metric.WithAttributes(Attr("provider", "deepgram")))
	m.LLMDuration.Record(ctx, 4)

	rm := collect(t, reader)
	hist, ok := findMetric(rm, "novo.tts.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("tts histogram = %+v", hist)
	}
	dp := hist.DataPoints[0]
	if len(dp.Bounds) != len(latencyBuckets) {
		t.Fatalf("bounds = %v, want %v", dp.Bounds, latencyBuckets)
	}
	// 0.3 falls in (0.25, 0.5].
	if dp.BucketCounts[5] != 1 {
		t.Errorf("bucket counts = %v, want the sample in (0.25, 0.5]", dp.BucketCounts)
	}
	if v, _ := dp.Attributes.Value("provider"); v.AsString() != "deepgram" {
		t.Errorf("provider attribute = %q", v.AsString())
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openrouter", "llm", "ok")
	m.RecordProviderRequest(ctx, "openrouter", "llm", "error")
	m.RecordProviderRequest(ctx, "openrouter", "llm", "ok")
	m.RecordProviderError(ctx, "deepgram", "tts")
	m.RecordTurn(ctx, "generated")
	m.RecordTurn(ctx, "dropped")
	m.RecordTurn(ctx, "generated")
	m.RecordTurn(ctx, "action")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "novo.provider.requests", "status"); got["ok"] != 2 || got["error"] != 1 {
		t.Errorf("requests by status = %v", got)
	}
	if got := sumByAttr(t, rm, "novo.provider.errors", "provider"); got["deepgram"] != 1 {
		t.Errorf("errors by provider = %v", got)
	}
	if got := sumByAttr(t, rm, "novo.turns.completed", "outcome"); got["generated"] != 2 || got["dropped"] != 1 || got["action"] != 1 {
		t.Errorf("turns by outcome = %v", got)
	}
}

func TestCircuitTransitionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCircuitTransition(ctx, "elevenlabs", "tts", "open")
	m.RecordCircuitTransition(ctx, "elevenlabs", "tts", "half-open")
	m.RecordCircuitTransition(ctx, "elevenlabs", "tts", "open")

	byState := sumByAttr(t, collect(t, reader), "novo.circuit.transitions", "state")
	if byState["open"] != 2 || byState["half-open"] != 1 {
		t.Errorf("transitions by state = %v, want open=2 half-open=1", byState)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// Three sessions open, one closes; two of them start talking.
	m.ActiveSessions.Add(ctx, 3)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveConversations.Add(ctx, 2)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"novo.active_sessions":      2,
		"novo.active_conversations": 2,
	} {
		sum, ok := findMetric(rm, name).Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Fatalf("%s = %+v", name, sum)
		}
		if sum.IsMonotonic {
			t.Errorf("%s should be an up/down counter", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics should return a single shared instance")
	}
}
