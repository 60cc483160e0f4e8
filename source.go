package micvad

// Source delivers mono float32 samples at SampleRate to the engine.
type Source interface {
	// Start begins delivering samples to push until Stop. push may be called
	// from any goroutine and must not be retained past Stop.
	Start(push func(samples []float32)) error
	// Stop halts delivery. Stopping a stopped source is a no-op.
	Stop() error
	// Close releases the source. The engine calls it from Destroy.
	Close() error
}

// Paced is implemented by sources that can wait for the engine instead of
// having frames dropped when it falls behind, such as file playback.
type Paced interface {
	// WaitForEngine reports whether push may block.
	WaitForEngine() bool
}
