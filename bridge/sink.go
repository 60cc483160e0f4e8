package bridge

import (
	"errors"
	"log/slog"
)

// ErrChannelUnavailable is returned by a Sink whose host is not ready to
// receive.
var ErrChannelUnavailable = errors.New("bridge: host channel unavailable")

// Sink is the outbound channel to the host: one named handler plus a payload
// string per event. Implementations must not call back into the Bridge.
type Sink interface {
	Deliver(handler, payload string) error
}

// FuncSink adapts a host callback to a Sink.
type FuncSink func(handler, payload string)

func (f FuncSink) Deliver(handler, payload string) error {
	if f == nil {
		return ErrChannelUnavailable
	}
	f(handler, payload)
	return nil
}

// DiagnosticLog records events that could not reach the host.
type DiagnosticLog interface {
	Record(handler, payload string)
}

// LogSink is the local fallback: every event becomes a log line, and
// optionally a diagnostic record.
type LogSink struct {
	Log  *slog.Logger
	Diag DiagnosticLog
}

// NewLogSink returns a LogSink writing to logger (slog.Default when nil).
func NewLogSink(logger *slog.Logger, diag DiagnosticLog) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Log: logger.With("component", "bridge.fallback"), Diag: diag}
}

func (s *LogSink) Deliver(handler, payload string) error {
	logger := s.Log
	if logger == nil {
		logger = slog.Default()
	}
	switch Kind(handler) {
	case KindError:
		logger.Error("host channel unavailable", "handler", handler, "payload", payload)
	case KindFrameProcessed:
		logger.Debug("host channel unavailable", "handler", handler, "payload_bytes", len(payload))
	case KindSpeechEnd:
		logger.Warn("host channel unavailable", "handler", handler, "payload_bytes", len(payload))
	default:
		logger.Warn("host channel unavailable", "handler", handler)
	}
	if s.Diag != nil {
		s.Diag.Record(handler, payload)
	}
	return nil
}

// FallbackSink delivers to Primary and reroutes to Fallback when Primary
// fails, Error events included.
type FallbackSink struct {
	Primary  Sink
	Fallback Sink
	// OnFallback, if set, is called for every rerouted event.
	OnFallback func(handler string, cause error)
}

func (s FallbackSink) Deliver(handler, payload string) error {
	cause := ErrChannelUnavailable
	if s.Primary != nil {
		err := s.Primary.Deliver(handler, payload)
		if err == nil {
			return nil
		}
		cause = err
	}
	if s.OnFallback != nil {
		s.OnFallback(handler, cause)
	}
	if s.Fallback == nil {
		return cause
	}
	return s.Fallback.Deliver(handler, payload)
}
