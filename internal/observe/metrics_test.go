package observe

import (
	"context"
	"errors"
	"testing"
	"time"

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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		hist metric.Float64Histogram
	}{
		{"charlie.turn.duration", m.TurnDuration},
		{"charlie.utterance.duration", m.UtteranceDuration},
		{"charlie.stt.duration", m.STTDuration},
		{"charlie.response.duration", m.ResponseDuration},
	}
	for _, h := range histograms {
		h.hist.Record(ctx, 0.3)
	}

	rm := collect(t, reader)
	for _, h := range histograms {
		t.Run(h.name, func(t *testing.T) {
			met := findMetric(rm, h.name)
			if met == nil {
				t.Fatal("metric not found")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatal("metric is not a histogram")
			}
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Errorf("data points = %+v, want one sample", hist.DataPoints)
			}
		})
	}
}

// counterValue sums the data points of an Int64 sum whose attributes contain
// every key/value in want.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.Emit() != kv.Value.Emit() {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "silence", "response", 800*time.Millisecond, 2*time.Second)
	m.RecordTurn(ctx, "silence", "no_speech", 100*time.Millisecond, 0)
	m.RecordTurn(ctx, "max_duration", "failure", time.Second, 30*time.Second)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "charlie.turn.ends", Attr("reason", "silence")); got != 2 {
		t.Errorf("silence ends = %d, want 2", got)
	}
	if got := counterValue(t, rm, "charlie.turn.ends", Attr("reason", "max_duration")); got != 1 {
		t.Errorf("max_duration ends = %d, want 1", got)
	}
	if got := counterValue(t, rm, "charlie.turn.outcomes", Attr("outcome", "failure")); got != 1 {
		t.Errorf("failure outcomes = %d, want 1", got)
	}

	hist := findMetric(rm, "charlie.utterance.duration").Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("utterance samples = %d, want 2 (zero length skipped)", got)
	}
}

func TestRecordStateTransition_TracksActiveConversations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	transitions := [][2]string{
		{"idle", "connecting"},
		{"connecting", "listening"},
		{"idle", "connecting"},
		{"listening", "processing"},
		{"processing", "idle"},
	}
	for _, tr := range transitions {
		m.RecordStateTransition(ctx, tr[0], tr[1])
	}

	rm := collect(t, reader)
	if got := counterValue(t, rm, "charlie.active_conversations"); got != 1 {
		t.Errorf("active conversations = %d, want 1", got)
	}
	if got := counterValue(t, rm, "charlie.state.transitions", Attr("from", "idle"), Attr("to", "connecting")); got != 2 {
		t.Errorf("idle->connecting = %d, want 2", got)
	}
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "stt", 200*time.Millisecond, nil)
	m.RecordProviderCall(ctx, "stt", 50*time.Millisecond, errors.New("timeout"))
	m.RecordProviderCall(ctx, "response", time.Second, nil)

	rm := collect(t, reader)
	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int64
	}{
		{"charlie.provider.requests", []attribute.KeyValue{Attr("kind", "stt"), Attr("status", "ok")}, 1},
		{"charlie.provider.requests", []attribute.KeyValue{Attr("kind", "stt"), Attr("status", "error")}, 1},
		{"charlie.provider.requests", []attribute.KeyValue{Attr("kind", "response")}, 1},
		{"charlie.provider.errors", []attribute.KeyValue{Attr("kind", "stt")}, 1},
		{"charlie.provider.errors", []attribute.KeyValue{Attr("kind", "response")}, 0},
	}
	for _, tc := range tests {
		if got := counterValue(t, rm, tc.name, tc.attrs...); got != tc.want {
			t.Errorf("%s %v = %d, want %d", tc.name, tc.attrs, got, tc.want)
		}
	}

	stt := findMetric(rm, "charlie.stt.duration").Data.(metricdata.Histogram[float64])
	if got := stt.DataPoints[0].Count; got != 2 {
		t.Errorf("stt samples = %d, want 2", got)
	}
}

func TestRecordNotice(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNotice(ctx, "permission_denied")
	m.RecordNotice(ctx, "network_failure")
	m.RecordNotice(ctx, "network_failure")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "charlie.notices", Attr("kind", "network_failure")); got != 2 {
		t.Errorf("network_failure = %d, want 2", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "charlie.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
