package micvad

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, cfg Config, model speechModel, src Source) (*Engine, *eventLog) {
	t.Helper()
	log := &eventLog{}
	e := newEngine(cfg, log.callbacks(), model, src)
	t.Cleanup(func() { _ = e.Destroy() })
	return e, log
}

func waitEvents(t *testing.T, log *eventLog, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(log.snapshot()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d events, want %d: %v", len(log.snapshot()), n, log.snapshot())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestProcessFrameSize(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(), constModel{0.9}, nil)
	if err := e.ProcessFrame(make([]float32, 3)); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("ProcessFrame = %v, want ErrFrameSize", err)
	}
}

func TestProcessFrameWhilePaused(t *testing.T) {
	e, log := newTestEngine(t, testConfig(), constModel{0.9}, nil)
	if err := e.ProcessFrame(make([]float32, testFrameSamples)); err != nil {
		t.Fatal(err)
	}
	if len(log.snapshot()) != 0 {
		t.Fatalf("paused engine emitted %v", log.snapshot())
	}
}

func TestProcessFrameSynchronous(t *testing.T) {
	e, log := newTestEngine(t, testConfig(), constModel{0.9}, nil)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.ProcessFrame(make([]float32, testFrameSamples)); err != nil {
		t.Fatal(err)
	}
	if got := log.snapshot(); !slices.Equal(got, []string{"frame", "start"}) {
		t.Fatalf("events = %v", got)
	}
}

func TestSourceFramesReachWorker(t *testing.T) {
	src := &fakeSource{}
	e, log := newTestEngine(t, testConfig(), constModel{0.1}, src)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	// Ten samples make two frames of four; two samples stay buffered.
	if err := src.send(make([]float32, 10)); err != nil {
		t.Fatal(err)
	}
	waitEvents(t, log, 2)
	if err := src.send(make([]float32, 2)); err != nil {
		t.Fatal(err)
	}
	waitEvents(t, log, 3)
	if !e.Listening() {
		t.Fatal("engine should be listening")
	}
}

func TestPacedSourceLosesNothing(t *testing.T) {
	src := &fakeSource{paced: true}
	e, log := newTestEngine(t, testConfig(), constModel{0.1}, src)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	const frames = 4 * frameQueueSize
	for range frames {
		if err := src.send(make([]float32, testFrameSamples)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}
	if got := log.count("frame"); got != frames {
		t.Fatalf("processed %d frames, want %d", got, frames)
	}
	if e.DroppedFrames() != 0 {
		t.Fatalf("dropped %d frames", e.DroppedFrames())
	}
}

func TestPauseFlushesSegment(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitUserSpeechOnPause = true
	src := &fakeSource{}
	e, log := newTestEngine(t, cfg, constModel{0.9}, src)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := e.ProcessFrame(make([]float32, testFrameSamples)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}
	// SpeechEnd is delivered before Pause returns.
	if got := log.nonFrame(); !slices.Equal(got, []string{"start", "realStart", "end(12)"}) {
		t.Fatalf("events = %v", got)
	}
	if src.stops != 1 || e.Listening() {
		t.Fatalf("stops=%d listening=%v", src.stops, e.Listening())
	}
}

func TestStartSourceError(t *testing.T) {
	src := &fakeSource{startErr: errors.New("no device")}
	e, _ := newTestEngine(t, testConfig(), constModel{0.9}, src)
	err := e.Start()
	if err == nil || !errors.Is(err, src.startErr) {
		t.Fatalf("Start = %v, want wrapped source error", err)
	}
	if e.Listening() {
		t.Fatal("engine listening after failed start")
	}
}

func TestDestroy(t *testing.T) {
	src := &fakeSource{}
	model := &scriptedModel{}
	e, _ := newTestEngine(t, testConfig(), model, src)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := e.Destroy(); err != nil {
		t.Fatalf("second Destroy = %v", err)
	}
	if !model.destroyed || !src.closed {
		t.Fatalf("destroyed=%v closed=%v", model.destroyed, src.closed)
	}
	if err := e.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Destroy = %v", err)
	}
	if err := e.ProcessFrame(make([]float32, testFrameSamples)); !errors.Is(err, ErrClosed) {
		t.Fatalf("ProcessFrame after Destroy = %v", err)
	}
}

func TestModelErrorReported(t *testing.T) {
	model := &scriptedModel{err: errors.New("inference failed")}
	e, log := newTestEngine(t, testConfig(), model, nil)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.ProcessFrame(make([]float32, testFrameSamples)); err == nil {
		t.Fatal("expected error")
	}
	if got := log.snapshot(); !slices.Equal(got, []string{"error:inference failed"}) {
		t.Fatalf("events = %v", got)
	}
}
