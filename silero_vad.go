package micvad

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	v5FrameSamples     = 512
	v5ContextSamples   = 64
	v5InputSamples     = v5ContextSamples + v5FrameSamples // 576
	v5StateSize        = 2 * 1 * 128
	legacyHiddenSize   = 2 * 1 * 64
	sampleRateArgument = int64(SampleRate)
)

var legacyFrameSizes = map[int]bool{512: true, 1024: true, 1536: true}

// speechModel yields the speech probability of one frame. Stateful; not safe
// for concurrent use.
type speechModel interface {
	speechProb(frame []float32) (float32, error)
	resetState()
	destroy() error
}

// destroyAll releases every non-nil value, ignoring errors.
func destroyAll(values ...interface{ Destroy() error }) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

// newSpeechModel loads the Silero variant named by cfg.Model from path.
func newSpeechModel(cfg Config, path string) (speechModel, error) {
	switch cfg.Model {
	case ModelV5:
		return newSileroV5(path)
	case ModelLegacy:
		return newSileroLegacy(path, cfg.FrameSamples)
	default:
		return nil, fmt.Errorf("config: unknown model %q", cfg.Model)
	}
}

// sileroV5 wraps Silero VAD v5: 512-sample frames with a 64-sample context
// carried between calls.
type sileroV5 struct {
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32] // (1, 576)
	state    *ort.Tensor[float32] // (2, 1, 128)
	sr       *ort.Tensor[int64]   // (1,) = 16000
	output   *ort.Tensor[float32] // (1, 1) speech prob
	stateOut *ort.Tensor[float32] // (2, 1, 128) new state

	context [v5ContextSamples]float32
}

func newSileroV5(modelPath string) (*sileroV5, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, v5InputSamples), make([]float32, v5InputSamples))
	if err != nil {
		return nil, err
	}
	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, v5StateSize))
	if err != nil {
		destroyAll(inputTensor)
		return nil, err
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRateArgument})
	if err != nil {
		destroyAll(inputTensor, stateTensor)
		return nil, err
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		destroyAll(inputTensor, stateTensor, srTensor)
		return nil, err
	}
	stateOutTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		destroyAll(inputTensor, stateTensor, srTensor, outputTensor)
		return nil, err
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateOutTensor},
		nil)
	if err != nil {
		destroyAll(inputTensor, stateTensor, srTensor, outputTensor, stateOutTensor)
		return nil, fmt.Errorf("micvad: load %s: %w", modelPath, err)
	}

	return &sileroV5{
		session:  sess,
		input:    inputTensor,
		state:    stateTensor,
		sr:       srTensor,
		output:   outputTensor,
		stateOut: stateOutTensor,
	}, nil
}

func (v *sileroV5) resetState() {
	for i := range v.context {
		v.context[i] = 0
	}
	v.state.ZeroContents()
}

// speechProb reuses the session tensors; no allocations in the hot path.
func (v *sileroV5) speechProb(frame []float32) (float32, error) {
	if len(frame) != v5FrameSamples {
		return 0, ErrFrameSize
	}

	inputData := v.input.GetData()
	copy(inputData[:v5ContextSamples], v.context[:])
	copy(inputData[v5ContextSamples:], frame)
	copy(v.context[:], inputData[v5InputSamples-v5ContextSamples:])

	if err := v.session.Run(); err != nil {
		return 0, err
	}
	prob := v.output.GetData()[0]
	copy(v.state.GetData(), v.stateOut.GetData())
	return prob, nil
}

func (v *sileroV5) destroy() error {
	err := v.session.Destroy()
	destroyAll(v.input, v.state, v.sr, v.output, v.stateOut)
	return err
}

// sileroLegacy wraps Silero VAD v4 with separate LSTM h/c state.
type sileroLegacy struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32] // (1, frameSamples)
	sr      *ort.Tensor[int64]   // (1,) = 16000
	h       *ort.Tensor[float32] // (2, 1, 64)
	c       *ort.Tensor[float32] // (2, 1, 64)
	output  *ort.Tensor[float32] // (1, 1)
	hn      *ort.Tensor[float32] // (2, 1, 64)
	cn      *ort.Tensor[float32] // (2, 1, 64)

	frameSamples int
}

func newSileroLegacy(modelPath string, frameSamples int) (*sileroLegacy, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(frameSamples)), make([]float32, frameSamples))
	if err != nil {
		return nil, err
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRateArgument})
	if err != nil {
		destroyAll(inputTensor)
		return nil, err
	}
	hTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), make([]float32, legacyHiddenSize))
	if err != nil {
		destroyAll(inputTensor, srTensor)
		return nil, err
	}
	cTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), make([]float32, legacyHiddenSize))
	if err != nil {
		destroyAll(inputTensor, srTensor, hTensor)
		return nil, err
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		destroyAll(inputTensor, srTensor, hTensor, cTensor)
		return nil, err
	}
	hnTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64))
	if err != nil {
		destroyAll(inputTensor, srTensor, hTensor, cTensor, outputTensor)
		return nil, err
	}
	cnTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64))
	if err != nil {
		destroyAll(inputTensor, srTensor, hTensor, cTensor, outputTensor, hnTensor)
		return nil, err
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{"input", "sr", "h", "c"},
		[]string{"output", "hn", "cn"},
		[]ort.Value{inputTensor, srTensor, hTensor, cTensor},
		[]ort.Value{outputTensor, hnTensor, cnTensor},
		nil)
	if err != nil {
		destroyAll(inputTensor, srTensor, hTensor, cTensor, outputTensor, hnTensor, cnTensor)
		return nil, fmt.Errorf("micvad: load %s: %w", modelPath, err)
	}

	return &sileroLegacy{
		session:      sess,
		input:        inputTensor,
		sr:           srTensor,
		h:            hTensor,
		c:            cTensor,
		output:       outputTensor,
		hn:           hnTensor,
		cn:           cnTensor,
		frameSamples: frameSamples,
	}, nil
}

func (v *sileroLegacy) resetState() {
	v.h.ZeroContents()
	v.c.ZeroContents()
}

func (v *sileroLegacy) speechProb(frame []float32) (float32, error) {
	if len(frame) != v.frameSamples {
		return 0, ErrFrameSize
	}
	copy(v.input.GetData(), frame)
	if err := v.session.Run(); err != nil {
		return 0, err
	}
	prob := v.output.GetData()[0]
	copy(v.h.GetData(), v.hn.GetData())
	copy(v.c.GetData(), v.cn.GetData())
	return prob, nil
}

func (v *sileroLegacy) destroy() error {
	err := v.session.Destroy()
	destroyAll(v.input, v.sr, v.h, v.c, v.output, v.hn, v.cn)
	return err
}
