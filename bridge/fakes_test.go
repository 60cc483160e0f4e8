package bridge

import (
	"context"
	"sync"
	"time"

	micvad "github.com/cortexswarm/micvad-go"
)

type fakeEngine struct {
	mu         sync.Mutex
	cb         micvad.Callbacks
	starts     int
	pauses     int
	destroys   int
	startErr   error
	pauseErr   error
	destroyErr error
	onPause    func(cb micvad.Callbacks)
}

func (e *fakeEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	return e.startErr
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	e.pauses++
	onPause, cb := e.onPause, e.cb
	e.mu.Unlock()
	if onPause != nil {
		onPause(cb)
	}
	return e.pauseErr
}

func (e *fakeEngine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroys++
	return e.destroyErr
}

func (e *fakeEngine) counts() (starts, pauses, destroys int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.pauses, e.destroys
}

// fakeFactory builds fakeEngines. When gate is set, construction blocks until
// it is closed.
type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	configs []SessionConfig
	ctxs    []context.Context
	err     error
	gate    chan struct{}
	// prepare customizes each engine before it is returned.
	prepare func(*fakeEngine)
}

func (f *fakeFactory) build(ctx context.Context, cfg SessionConfig, cb micvad.Callbacks) (Engine, error) {
	f.mu.Lock()
	gate := f.gate
	f.ctxs = append(f.ctxs, ctx)
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	eng := &fakeEngine{cb: cb}
	if f.prepare != nil {
		f.prepare(eng)
	}
	f.engines = append(f.engines, eng)
	return eng, nil
}

func (f *fakeFactory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

type delivery struct {
	handler string
	payload string
}

type recordingSink struct {
	mu  sync.Mutex
	got []delivery
	err error
}

func (s *recordingSink) Deliver(handler, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, delivery{handler, payload})
	return nil
}

func (s *recordingSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

type countingRecorder struct {
	mu       sync.Mutex
	relayed  map[Kind]int
	dropped  map[Kind]int
	started  int
	failed   int
	ended    int
	lastWait time.Duration
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{relayed: map[Kind]int{}, dropped: map[Kind]int{}}
}

func (r *countingRecorder) EventRelayed(k Kind) {
	r.mu.Lock()
	r.relayed[k]++
	r.mu.Unlock()
}

func (r *countingRecorder) EventDropped(k Kind) {
	r.mu.Lock()
	r.dropped[k]++
	r.mu.Unlock()
}

func (r *countingRecorder) SessionStarted(d time.Duration) {
	r.mu.Lock()
	r.started++
	r.lastWait = d
	r.mu.Unlock()
}

func (r *countingRecorder) SessionFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func (r *countingRecorder) SessionEnded() {
	r.mu.Lock()
	r.ended++
	r.mu.Unlock()
}
