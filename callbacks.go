package micvad

// SpeechProbabilities is the model output for one frame.
type SpeechProbabilities struct {
	IsSpeech  float32
	NotSpeech float32
}

// Callbacks are invoked by the engine one at a time, in frame order, either
// from the frame worker or from the goroutine calling ProcessFrame or Pause.
// All fields are optional (nil is allowed).
type Callbacks struct {
	// OnSpeechStart fires on the first frame at or above the positive threshold.
	OnSpeechStart func()
	// OnSpeechRealStart fires once MinSpeechFrames speech frames have been seen
	// in the current segment.
	OnSpeechRealStart func()
	// OnSpeechEnd receives the whole segment including pre-speech padding. The
	// slice is owned by the callee.
	OnSpeechEnd func(audio []float32)
	// OnVADMisfire fires when a segment ends with fewer than MinSpeechFrames
	// speech frames.
	OnVADMisfire func()
	// OnFrameProcessed receives every frame with its probabilities; the engine
	// may reuse frame after the callback returns, copy if retaining.
	OnFrameProcessed func(probs SpeechProbabilities, frame []float32)

	// OnError receives model failures hit while processing frames.
	OnError func(err error)
}
