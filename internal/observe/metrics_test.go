package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/cortexswarm/micvad-go/bridge"
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumFor returns the int64 sum data point of name carrying kind, or of the
// only point when kind is empty.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, kind string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s: unexpected data %T", name, m.Data)
	}
	for _, dp := range sum.DataPoints {
		if kind == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key("kind")); ok && v.AsString() == kind {
			return dp.Value
		}
	}
	t.Fatalf("metric %s: no data point for kind %q", name, kind)
	return 0
}

func TestEventCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.EventRelayed(bridge.KindSpeechStart)
	m.EventRelayed(bridge.KindSpeechStart)
	m.EventRelayed(bridge.KindSpeechEnd)
	m.EventDropped(bridge.KindFrameProcessed)
	m.RecordFallback(string(bridge.KindError), errors.New("no host"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, "micvad.events.relayed", "onSpeechStart"); got != 2 {
		t.Errorf("relayed onSpeechStart = %d, want 2", got)
	}
	if got := sumFor(t, rm, "micvad.events.relayed", "onSpeechEnd"); got != 1 {
		t.Errorf("relayed onSpeechEnd = %d, want 1", got)
	}
	if got := sumFor(t, rm, "micvad.events.dropped", "onFrameProcessed"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := sumFor(t, rm, "micvad.events.fallback", "onError"); got != 1 {
		t.Errorf("fallback = %d, want 1", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SessionStarted(120 * time.Millisecond)
	m.SessionFailed()
	m.SessionStarted(80 * time.Millisecond)
	m.SessionEnded()

	rm := collect(t, reader)
	if got := sumFor(t, rm, "micvad.sessions.started", ""); got != 2 {
		t.Errorf("started = %d, want 2", got)
	}
	if got := sumFor(t, rm, "micvad.sessions.failed", ""); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := sumFor(t, rm, "micvad.sessions.active", ""); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}

	h := findMetric(rm, "micvad.session.setup.duration")
	if h == nil {
		t.Fatal("setup histogram not found")
	}
	hist, ok := h.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data %T", h.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram points = %+v", hist.DataPoints)
	}
}

func TestHostConnections(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.HostConnected(1)
	m.HostConnected(1)
	m.HostConnected(-1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "micvad.host.connections", ""); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}
