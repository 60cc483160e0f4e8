package micvad

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/youpy/go-wav"
)

// LoadWAV reads a mono or stereo PCM WAV file as mono float32 in [-1, 1].
func LoadWAV(path string) (samples []float32, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	wavReader := wav.NewReader(f)
	format, err := wavReader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("WAV format: %w", err)
	}
	sampleRate = int(format.SampleRate)
	numChannels := int(format.NumChannels)
	if numChannels < 1 || numChannels > 2 {
		return nil, 0, fmt.Errorf("WAV: only mono or stereo supported, got %d channels", numChannels)
	}
	scale := float32(int(1) << (format.BitsPerSample - 1))

	var out []float32
	for {
		readSamples, err := wavReader.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("reading WAV samples: %w", err)
		}
		for _, s := range readSamples {
			v := float32(wavReader.IntValue(s, 0))
			if numChannels == 2 {
				v = (v + float32(wavReader.IntValue(s, 1))) / 2
			}
			out = append(out, v/scale)
		}
	}
	return out, sampleRate, nil
}

// WriteWAV writes samples as 16-bit mono PCM, clamping to [-1, 1].
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	// go-wav Sample.Values[0] is the PCM value (16-bit: -32768..32767)
	wavSamples := make([]wav.Sample, len(samples))
	for i, v := range samples {
		if v < -1 {
			v = -1
		}
		if v > 1 {
			v = 1
		}
		wavSamples[i] = wav.Sample{Values: [2]int{int(v * 32767), 0}}
	}
	writer := wav.NewWriter(f, uint32(len(wavSamples)), 1, uint32(sampleRate), 16)
	return writer.WriteSamples(wavSamples)
}

// WAVSource replays a WAV file. With Realtime set, samples are paced at the
// file's rate; otherwise the file is pushed as fast as the engine drains it.
type WAVSource struct {
	Realtime bool
	// OnEnd, if set, is called once the whole file has been delivered. It runs
	// after playback has finished, so it may stop or pause the engine.
	OnEnd func()

	samples []float32
	chunk   int

	mu      sync.Mutex
	pos     int
	stop    chan struct{}
	stopped chan struct{}
}

// NewWAVSource loads path; the file must be SampleRate Hz.
func NewWAVSource(path string) (*WAVSource, error) {
	samples, rate, err := LoadWAV(path)
	if err != nil {
		return nil, err
	}
	if rate != SampleRate {
		return nil, fmt.Errorf("micvad: %s is %d Hz, want %d", path, rate, SampleRate)
	}
	return &WAVSource{samples: samples, chunk: SampleRate / 100}, nil
}

func (w *WAVSource) Start(push func(samples []float32)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return nil
	}
	w.stop = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.play(push, w.stop, w.stopped)
	return nil
}

func (w *WAVSource) play(push func([]float32), stop, stopped chan struct{}) {
	ended := false
	defer func() {
		close(stopped)
		if ended && w.OnEnd != nil {
			w.OnEnd()
		}
	}()
	interval := time.Duration(w.chunk) * time.Second / SampleRate
	var tick <-chan time.Time
	if w.Realtime {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-stop:
			return
		default:
		}
		w.mu.Lock()
		start := w.pos
		end := min(start+w.chunk, len(w.samples))
		w.pos = end
		w.mu.Unlock()
		if start >= end {
			ended = true
			return
		}
		push(w.samples[start:end])
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		}
	}
}

// Stop halts playback; a later Start resumes where it stopped.
func (w *WAVSource) Stop() error {
	w.mu.Lock()
	stop, stopped := w.stop, w.stopped
	w.stop, w.stopped = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-stopped
	return nil
}

// WaitForEngine makes the engine apply back-pressure instead of dropping
// frames when playback is not paced in real time.
func (w *WAVSource) WaitForEngine() bool {
	return !w.Realtime
}

func (w *WAVSource) Close() error {
	return w.Stop()
}
