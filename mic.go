package micvad

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// MicSource captures the default input device as 16 kHz mono float32 through
// miniaudio. The device is opened on the first Start and kept until Close.
type MicSource struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	push   func([]float32)
	closed bool
}

// NewMicSource returns a source for the default capture device.
func NewMicSource() *MicSource {
	return &MicSource{}
}

func (m *MicSource) Start(push func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.push = push
	if m.device == nil {
		if err := m.open(); err != nil {
			return err
		}
	}
	if m.device.IsStarted() {
		return nil
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("micvad: device start: %w", err)
	}
	return nil
}

// open must be called with m.mu held.
func (m *MicSource) open() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("micvad: malgo init: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1

	onRecvFrames := func(_, pSample []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		n := int(framecount) * int(deviceConfig.Capture.Channels)
		if len(pSample) < n*4 {
			n = len(pSample) / 4
		}
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:]))
		}
		m.deliver(samples)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("micvad: init capture device: %w", err)
	}
	m.ctx = ctx
	m.device = device
	return nil
}

func (m *MicSource) deliver(samples []float32) {
	m.mu.Lock()
	push := m.push
	m.mu.Unlock()
	if push != nil {
		push(samples)
	}
}

func (m *MicSource) Stop() error {
	m.mu.Lock()
	device := m.device
	m.push = nil
	m.mu.Unlock()
	if device == nil || !device.IsStarted() {
		return nil
	}
	return device.Stop()
}

func (m *MicSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.push = nil
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		err := m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
		return err
	}
	return nil
}
