// Package bridge relays a microphone VAD session to an embedding host.
//
// A Bridge owns at most one session. Start builds the engine asynchronously
// and reports failures as Error events; Stop pauses and destroys it. Engine
// events are serialized one by one and pushed to a Sink under the handler
// names onSpeechStart, onRealSpeechStart, onSpeechEnd, onVADMisfire,
// onFrameProcessed and onError, in the order the engine emits them.
//
// Every Start and Stop advances a session epoch. Callbacks are bound to the
// epoch of the session that created them, so events from a session that has
// been stopped are dropped instead of reaching the host.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	micvad "github.com/cortexswarm/micvad-go"
)

// ErrNotInitialized is reported when Stop is called with no session.
var ErrNotInitialized = errors.New("session not initialized")

// SessionConfig is forwarded to the engine untouched.
type SessionConfig = micvad.Config

// Engine is the running detection engine of one session.
type Engine interface {
	Start() error
	Pause() error
	Destroy() error
}

// EngineFactory constructs an engine wired to cb. ctx is cancelled when the
// session is stopped before construction finishes.
type EngineFactory func(ctx context.Context, cfg SessionConfig, cb micvad.Callbacks) (Engine, error)

// Recorder receives bridge activity for metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	EventRelayed(kind Kind)
	EventDropped(kind Kind)
	SessionStarted(setup time.Duration)
	SessionFailed()
	SessionEnded()
}

type nopRecorder struct{}

func (nopRecorder) EventRelayed(Kind)            {}
func (nopRecorder) EventDropped(Kind)            {}
func (nopRecorder) SessionStarted(time.Duration) {}
func (nopRecorder) SessionFailed()               {}
func (nopRecorder) SessionEnded()                {}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Bridge) {
		if r != nil {
			b.rec = r
		}
	}
}

// WithTracer sets the tracer used for session start spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bridge) {
		if t != nil {
			b.tracer = t
		}
	}
}

// Bridge owns one optional voice session. It is safe for concurrent use.
type Bridge struct {
	factory EngineFactory
	sink    Sink
	log     *slog.Logger
	rec     Recorder
	tracer  trace.Tracer

	// lifeMu serializes Start, Stop and Close so a stop's flush completes
	// before the next session begins.
	lifeMu sync.Mutex

	// mu guards the session. Relays hold it for reading while delivering so
	// that a stop cannot complete in the middle of a delivery.
	mu        sync.RWMutex
	active    bool
	handle    Engine
	epoch     uint64
	sessionID string
	cancel    context.CancelFunc

	pending sync.WaitGroup
}

// New returns an idle Bridge. A nil sink selects a LogSink on the bridge
// logger.
func New(factory EngineFactory, sink Sink, opts ...Option) *Bridge {
	if factory == nil {
		panic("bridge: engine factory must not be nil")
	}
	b := &Bridge{
		factory: factory,
		log:     slog.Default(),
		rec:     nopRecorder{},
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "bridge")
	if sink == nil {
		sink = NewLogSink(b.log, nil)
	}
	b.sink = sink
	return b
}

// Start begins a session with cfg. It returns immediately; the engine is
// built in the background and failures arrive as an Error event, after which
// the bridge is idle again. Start on an active bridge does nothing.
func (b *Bridge) Start(cfg SessionConfig) {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		return
	}
	b.active = true
	b.epoch++
	epoch := b.epoch
	id := uuid.NewString()
	b.sessionID = id
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	b.log.Info("session starting", "session_id", id, "model", cfg.Model, "frame_samples", cfg.FrameSamples)
	b.pending.Add(1)
	go b.construct(ctx, cancel, epoch, id, cfg)
}

func (b *Bridge) construct(ctx context.Context, cancel context.CancelFunc, epoch uint64, id string, cfg SessionConfig) {
	defer b.pending.Done()
	defer cancel()

	begin := time.Now()
	ctx, span := b.tracer.Start(ctx, "micvad.session.start", trace.WithAttributes(
		attribute.String("session_id", id),
		attribute.String("model", cfg.Model),
	))
	defer span.End()

	eng, err := b.factory(ctx, cfg, b.callbacks(epoch))
	if err == nil && !b.current(epoch) {
		span.AddEvent("cancelled")
		b.discard(eng, id)
		return
	}
	if err == nil {
		if err = eng.Start(); err != nil {
			b.discard(eng, id)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.mu.Lock()
		current := b.epoch == epoch
		if current {
			b.epoch++
			b.active = false
			b.cancel = nil
			b.sessionID = ""
		}
		b.mu.Unlock()
		if !current {
			b.log.Debug("session start abandoned", "session_id", id, "error", err)
			return
		}
		b.rec.SessionFailed()
		b.log.Error("session start failed", "session_id", id, "error", err)
		b.emit(ErrorEvent(err))
		return
	}

	b.mu.Lock()
	if b.epoch != epoch {
		b.mu.Unlock()
		span.AddEvent("cancelled")
		_ = eng.Pause()
		b.discard(eng, id)
		return
	}
	b.handle = eng
	b.cancel = nil
	b.mu.Unlock()

	setup := time.Since(begin)
	b.rec.SessionStarted(setup)
	b.log.Info("session listening", "session_id", id, "setup", setup)
}

func (b *Bridge) discard(eng Engine, id string) {
	if err := eng.Destroy(); err != nil {
		b.log.Warn("failed to destroy engine", "session_id", id, "error", err)
	}
}

// Stop pauses and destroys the session's engine. Events the pause flushes
// (SubmitUserSpeechOnPause) are still relayed. A session still being built is
// cancelled. With no session, Stop reports ErrNotInitialized as an Error
// event.
func (b *Bridge) Stop() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if !b.stop() {
		b.log.Warn("stop without session")
		b.emit(ErrorEvent(ErrNotInitialized))
	}
}

// Close stops any session and waits for pending engine construction. Unlike
// Stop it reports nothing when idle.
func (b *Bridge) Close() {
	b.lifeMu.Lock()
	b.stop()
	b.lifeMu.Unlock()
	b.pending.Wait()
}

// stop ends the current session and reports whether there was one. Callers
// hold lifeMu.
func (b *Bridge) stop() bool {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return false
	}
	handle, id, cancel := b.handle, b.sessionID, b.cancel
	if handle == nil {
		b.epoch++
		b.active = false
		b.cancel = nil
		b.sessionID = ""
		b.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		b.log.Info("session start cancelled", "session_id", id)
		return true
	}
	b.mu.Unlock()

	pauseErr := handle.Pause()

	b.mu.Lock()
	b.epoch++
	b.active = false
	b.handle = nil
	b.sessionID = ""
	b.mu.Unlock()

	destroyErr := handle.Destroy()
	b.rec.SessionEnded()
	if err := errors.Join(pauseErr, destroyErr); err != nil {
		b.log.Error("session teardown failed", "session_id", id, "error", err)
		b.emit(ErrorEvent(err))
		return true
	}
	b.log.Info("session stopped", "session_id", id)
	return true
}

// IsActive reports whether a session is starting or listening.
func (b *Bridge) IsActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// SessionID returns the current session's id, or "" when idle.
func (b *Bridge) SessionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

func (b *Bridge) current(epoch uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.epoch == epoch
}

func (b *Bridge) callbacks(epoch uint64) micvad.Callbacks {
	return micvad.Callbacks{
		OnSpeechStart: func() {
			b.relay(epoch, Event{Kind: KindSpeechStart})
		},
		OnSpeechRealStart: func() {
			b.relay(epoch, Event{Kind: KindRealSpeechStart})
		},
		OnSpeechEnd: func(audio []float32) {
			b.relay(epoch, Event{Kind: KindSpeechEnd, Audio: audio})
		},
		OnVADMisfire: func() {
			b.relay(epoch, Event{Kind: KindMisfire})
		},
		OnFrameProcessed: func(probs micvad.SpeechProbabilities, frame []float32) {
			b.relay(epoch, Event{Kind: KindFrameProcessed, Probabilities: probs, Frame: frame})
		},
		OnError: func(err error) {
			b.relay(epoch, ErrorEvent(err))
		},
	}
}

// relay delivers ev if it belongs to the current session.
func (b *Bridge) relay(epoch uint64, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.epoch != epoch {
		b.rec.EventDropped(ev.Kind)
		return
	}
	b.emit(ev)
}

// emit serializes ev and hands it to the sink. An event that cannot be
// encoded is replaced by an Error event describing why.
func (b *Bridge) emit(ev Event) {
	payload, err := ev.Payload()
	if err != nil {
		b.log.Error("failed to encode event", "kind", ev.Kind, "error", err)
		ev = ErrorEvent(err)
		if payload, err = ev.Payload(); err != nil {
			return
		}
	}
	if err := b.sink.Deliver(string(ev.Kind), payload); err != nil {
		b.log.Warn("event delivery failed", "handler", ev.Kind, "error", err)
		return
	}
	b.rec.EventRelayed(ev.Kind)
}
