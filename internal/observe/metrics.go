// Package observe holds the OpenTelemetry instruments of micvad-go and the
// provider setup that exports them to Prometheus.
//
// Tests should build [Metrics] with [NewMetrics] over a private
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cortexswarm/micvad-go/bridge"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/cortexswarm/micvad-go"

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// EventsRelayed counts events handed to the host sink, by kind.
	EventsRelayed metric.Int64Counter
	// EventsDropped counts events discarded because their session had ended.
	EventsDropped metric.Int64Counter
	// EventsFallback counts events rerouted to the local diagnostic log.
	EventsFallback metric.Int64Counter

	SessionsStarted metric.Int64Counter
	SessionsFailed  metric.Int64Counter
	// ActiveSessions is 1 while a session is listening.
	ActiveSessions metric.Int64UpDownCounter
	// SessionSetupDuration is the time from Start to a listening engine.
	SessionSetupDuration metric.Float64Histogram

	// HostConnections tracks connected host channels.
	HostConnections metric.Int64UpDownCounter
}

// setupBuckets are in seconds; model loading dominates.
var setupBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EventsRelayed, err = m.Int64Counter("micvad.events.relayed",
		metric.WithDescription("Events delivered to the host sink by kind."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("micvad.events.dropped",
		metric.WithDescription("Events discarded because their session was stopped."),
	); err != nil {
		return nil, err
	}
	if met.EventsFallback, err = m.Int64Counter("micvad.events.fallback",
		metric.WithDescription("Events routed to the local diagnostic log."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("micvad.sessions.started",
		metric.WithDescription("Sessions whose engine started listening."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFailed, err = m.Int64Counter("micvad.sessions.failed",
		metric.WithDescription("Sessions whose engine failed to start."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("micvad.sessions.active",
		metric.WithDescription("Number of listening sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionSetupDuration, err = m.Float64Histogram("micvad.session.setup.duration",
		metric.WithDescription("Time from start request to a listening engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(setupBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HostConnections, err = m.Int64UpDownCounter("micvad.host.connections",
		metric.WithDescription("Connected host channels."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func kindAttr(kind bridge.Kind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", string(kind)))
}

// EventRelayed implements bridge.Recorder.
func (m *Metrics) EventRelayed(kind bridge.Kind) {
	m.EventsRelayed.Add(context.Background(), 1, kindAttr(kind))
}

// EventDropped implements bridge.Recorder.
func (m *Metrics) EventDropped(kind bridge.Kind) {
	m.EventsDropped.Add(context.Background(), 1, kindAttr(kind))
}

// SessionStarted implements bridge.Recorder.
func (m *Metrics) SessionStarted(setup time.Duration) {
	ctx := context.Background()
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.SessionSetupDuration.Record(ctx, setup.Seconds())
}

// SessionFailed implements bridge.Recorder.
func (m *Metrics) SessionFailed() {
	m.SessionsFailed.Add(context.Background(), 1)
}

// SessionEnded implements bridge.Recorder.
func (m *Metrics) SessionEnded() {
	m.ActiveSessions.Add(context.Background(), -1)
}

// RecordFallback counts one event rerouted away from the host. Its signature
// matches bridge.FallbackSink.OnFallback.
func (m *Metrics) RecordFallback(handler string, _ error) {
	m.EventsFallback.Add(context.Background(), 1, kindAttr(bridge.Kind(handler)))
}

// HostConnected adjusts the host connection gauge by delta.
func (m *Metrics) HostConnected(delta int64) {
	m.HostConnections.Add(context.Background(), delta)
}

var _ bridge.Recorder = (*Metrics)(nil)
