package micvad

// frameProcessor turns per-frame speech probabilities into segment events.
// Pure logic over a speechModel; not safe for concurrent use.
type frameProcessor struct {
	cfg   Config
	model speechModel
	cb    Callbacks

	buffer            []bufferedFrame
	speaking          bool
	speechFrameCount  int
	redemptionCounter int
	realStartFired    bool
	active            bool
}

type bufferedFrame struct {
	frame    []float32
	isSpeech bool
}

func newFrameProcessor(cfg Config, model speechModel, cb Callbacks) *frameProcessor {
	return &frameProcessor{cfg: cfg, model: model, cb: cb}
}

func (p *frameProcessor) resume() {
	p.active = true
}

// process runs the model on frame and emits events. Frames arriving while the
// processor is paused are ignored.
func (p *frameProcessor) process(frame []float32) error {
	if !p.active {
		return nil
	}
	prob, err := p.model.speechProb(frame)
	if err != nil {
		return err
	}
	probs := SpeechProbabilities{IsSpeech: prob, NotSpeech: 1 - prob}
	isSpeech := prob >= p.cfg.PositiveSpeechThreshold

	if p.cb.OnFrameProcessed != nil {
		p.cb.OnFrameProcessed(probs, frame)
	}

	frameCopy := make([]float32, len(frame))
	copy(frameCopy, frame)
	p.buffer = append(p.buffer, bufferedFrame{frame: frameCopy, isSpeech: isSpeech})

	if isSpeech {
		p.speechFrameCount++
		p.redemptionCounter = 0
	}
	if isSpeech && !p.speaking {
		p.speaking = true
		if p.cb.OnSpeechStart != nil {
			p.cb.OnSpeechStart()
		}
	}
	if p.speaking && p.speechFrameCount == p.cfg.MinSpeechFrames && !p.realStartFired {
		p.realStartFired = true
		if p.cb.OnSpeechRealStart != nil {
			p.cb.OnSpeechRealStart()
		}
	}

	if prob < p.cfg.NegativeSpeechThreshold && p.speaking {
		p.redemptionCounter++
		if p.redemptionCounter >= p.cfg.RedemptionFrames {
			buffer := p.buffer
			p.buffer = nil
			p.speaking = false
			p.speechFrameCount = 0
			p.redemptionCounter = 0
			p.realStartFired = false
			p.emitSegment(buffer)
		}
	}

	if !p.speaking {
		if n := len(p.buffer) - p.cfg.PreSpeechPadFrames; n > 0 {
			p.buffer = append(p.buffer[:0], p.buffer[n:]...)
		}
		p.speechFrameCount = 0
	}
	return nil
}

// pause stops processing. With SubmitUserSpeechOnPause an in-progress segment
// is ended as if redemption had elapsed.
func (p *frameProcessor) pause() {
	p.active = false
	if p.cfg.SubmitUserSpeechOnPause && p.speaking {
		p.endSegment()
		return
	}
	p.reset()
}

// endSegment emits the buffered segment and resets model state.
func (p *frameProcessor) endSegment() {
	buffer := p.buffer
	p.reset()
	p.emitSegment(buffer)
}

// emitSegment emits SpeechEnd, or a misfire when buffer holds fewer than
// MinSpeechFrames speech frames.
func (p *frameProcessor) emitSegment(buffer []bufferedFrame) {
	speechFrames := 0
	samples := 0
	for _, f := range buffer {
		if f.isSpeech {
			speechFrames++
		}
		samples += len(f.frame)
	}
	if speechFrames < p.cfg.MinSpeechFrames {
		if p.cb.OnVADMisfire != nil {
			p.cb.OnVADMisfire()
		}
		return
	}
	audio := make([]float32, 0, samples)
	for _, f := range buffer {
		audio = append(audio, f.frame...)
	}
	if p.cb.OnSpeechEnd != nil {
		p.cb.OnSpeechEnd(audio)
	}
}

func (p *frameProcessor) reset() {
	p.buffer = nil
	p.speaking = false
	p.speechFrameCount = 0
	p.redemptionCounter = 0
	p.realStartFired = false
	p.model.resetState()
}
