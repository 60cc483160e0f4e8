package micvad

import (
	"errors"
	"fmt"
	"sync"
)

// scriptedModel returns probabilities from probs in order, then 0.
type scriptedModel struct {
	mu        sync.Mutex
	probs     []float32
	calls     int
	resets    int
	destroyed bool
	err       error
}

func (m *scriptedModel) speechProb([]float32) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var p float32
	if m.calls < len(m.probs) {
		p = m.probs[m.calls]
	}
	m.calls++
	return p, nil
}

func (m *scriptedModel) resetState() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

func (m *scriptedModel) destroy() error {
	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()
	return nil
}

// constModel reports the same probability for every frame.
type constModel struct{ p float32 }

func (m constModel) speechProb([]float32) (float32, error) { return m.p, nil }
func (constModel) resetState()                             {}
func (constModel) destroy() error                          { return nil }

// fakeSource hands its push function to the test.
type fakeSource struct {
	mu       sync.Mutex
	push     func([]float32)
	startErr error
	paced    bool
	starts   int
	stops    int
	closed   bool
}

func (s *fakeSource) Start(push func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.push = push
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.push = nil
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) WaitForEngine() bool { return s.paced }

func (s *fakeSource) send(samples []float32) error {
	s.mu.Lock()
	push := s.push
	s.mu.Unlock()
	if push == nil {
		return errors.New("source not started")
	}
	push(samples)
	return nil
}

// eventLog records callbacks as strings, in order.
type eventLog struct {
	mu       sync.Mutex
	events   []string
	segments [][]float32
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnSpeechStart:     func() { l.add("start") },
		OnSpeechRealStart: func() { l.add("realStart") },
		OnSpeechEnd: func(audio []float32) {
			l.mu.Lock()
			l.segments = append(l.segments, audio)
			l.mu.Unlock()
			l.add(fmt.Sprintf("end(%d)", len(audio)))
		},
		OnVADMisfire:     func() { l.add("misfire") },
		OnFrameProcessed: func(SpeechProbabilities, []float32) { l.add("frame") },
		OnError:          func(err error) { l.add("error:" + err.Error()) },
	}
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// nonFrame returns the recorded events without "frame" entries.
func (l *eventLog) nonFrame() []string {
	var out []string
	for _, ev := range l.snapshot() {
		if ev != "frame" {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) count(ev string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}
