package micvad

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrFrameSize = errors.New("micvad: frame must be exactly FrameSamples samples")
	ErrClosed    = errors.New("micvad: engine is closed")
)

// frameQueueSize bounds frames waiting for the worker; the source drops frames
// when the worker falls this far behind.
const frameQueueSize = 64

// Engine runs a Silero model over audio from a Source and reports speech
// segments through Callbacks. Lifecycle methods and ProcessFrame are safe to
// call from any goroutine; callbacks never run concurrently with each other.
type Engine struct {
	cfg   Config
	cb    Callbacks
	src   Source
	model speechModel

	mu        sync.Mutex
	proc      *frameProcessor
	listening bool
	closed    bool

	accMu sync.Mutex
	acc   []float32

	frames  chan []float32
	quit    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
	// queued counts frames pushed but not yet handled by the worker.
	queued sync.WaitGroup
	// paced makes push wait for queue space instead of dropping.
	paced atomic.Bool
}

// New validates cfg, initializes onnxruntime, loads the model selected by
// cfg.Model and returns a paused engine. src may be nil when the caller feeds
// frames with ProcessFrame.
func New(cfg Config, cb Callbacks, src Source) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	modelPath, err := validateAssets(cfg)
	if err != nil {
		return nil, err
	}
	if err := initRuntime(cfg.OnnxRuntimePath); err != nil {
		return nil, err
	}
	model, err := newSpeechModel(cfg, modelPath)
	if err != nil {
		return nil, err
	}
	return newEngine(cfg, cb, model, src), nil
}

func newEngine(cfg Config, cb Callbacks, model speechModel, src Source) *Engine {
	e := &Engine{
		cfg:    cfg,
		cb:     cb,
		src:    src,
		model:  model,
		proc:   newFrameProcessor(cfg, model, cb),
		frames: make(chan []float32, frameQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case frame := <-e.frames:
			e.mu.Lock()
			if e.listening {
				if err := e.proc.process(frame); err != nil {
					e.reportError(err)
				}
			}
			e.mu.Unlock()
			e.queued.Done()
		}
	}
}

// Start begins processing and starts the source. Starting a listening engine
// is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.listening {
		e.mu.Unlock()
		return nil
	}
	e.accMu.Lock()
	e.acc = e.acc[:0]
	e.accMu.Unlock()
	e.drainFrames()

	e.listening = true
	e.proc.resume()
	e.mu.Unlock()

	if e.src == nil {
		return nil
	}
	if p, ok := e.src.(Paced); ok {
		e.paced.Store(p.WaitForEngine())
	}
	if err := e.src.Start(e.push); err != nil {
		e.mu.Lock()
		e.listening = false
		e.proc.active = false
		e.mu.Unlock()
		return fmt.Errorf("micvad: start source: %w", err)
	}
	return nil
}

// Pause stops the source, then processing. An in-progress segment is ended
// or discarded according to Config.SubmitUserSpeechOnPause; events it
// produces are delivered before Pause returns. Frames already queued from a
// Paced source are processed first.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.closed || !e.listening {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	var srcErr error
	if e.src != nil {
		if err := e.src.Stop(); err != nil {
			srcErr = fmt.Errorf("micvad: stop source: %w", err)
		}
	}

	if e.paced.Load() {
		e.queued.Wait()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.listening {
		return srcErr
	}
	e.listening = false
	e.proc.pause()
	return srcErr
}

// Destroy pauses the engine and releases the source and the model. The engine
// must not be used afterwards; repeated calls return nil.
func (e *Engine) Destroy() error {
	pauseErr := e.Pause()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.quit)
	<-e.done

	errs := []error{pauseErr}
	if e.src != nil {
		errs = append(errs, e.src.Close())
	}
	errs = append(errs, e.model.destroy())
	return errors.Join(errs...)
}

// ProcessFrame processes one frame of exactly FrameSamples samples
// synchronously. Frames are ignored while the engine is paused.
func (e *Engine) ProcessFrame(frame []float32) error {
	if len(frame) != e.cfg.FrameSamples {
		return ErrFrameSize
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.listening {
		return nil
	}
	if err := e.proc.process(frame); err != nil {
		e.reportError(err)
		return err
	}
	return nil
}

// Listening reports whether the engine is processing audio.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// DroppedFrames returns how many frames were discarded because the worker was
// behind the source.
func (e *Engine) DroppedFrames() uint64 {
	return e.dropped.Load()
}

// push slices source samples into frames and queues them for the worker.
func (e *Engine) push(samples []float32) {
	n := e.cfg.FrameSamples
	e.accMu.Lock()
	defer e.accMu.Unlock()
	e.acc = append(e.acc, samples...)
	for len(e.acc) >= n {
		frame := make([]float32, n)
		copy(frame, e.acc[:n])
		e.acc = append(e.acc[:0], e.acc[n:]...)
		e.queued.Add(1)
		if e.paced.Load() {
			select {
			case e.frames <- frame:
			case <-e.quit:
				e.queued.Done()
				return
			}
			continue
		}
		select {
		case e.frames <- frame:
		default:
			e.queued.Done()
			e.dropped.Add(1)
		}
	}
}

func (e *Engine) drainFrames() {
	for {
		select {
		case <-e.frames:
			e.queued.Done()
		default:
			return
		}
	}
}

// reportError must be called with e.mu held.
func (e *Engine) reportError(err error) {
	if e.cb.OnError != nil {
		e.cb.OnError(err)
	}
}
