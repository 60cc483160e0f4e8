package bridge

import (
	"context"
	"fmt"

	micvad "github.com/cortexswarm/micvad-go"
)

// SourceFactory opens the audio input of a new session.
type SourceFactory func() (micvad.Source, error)

// MicVAD returns an EngineFactory that builds micvad engines reading from a
// fresh source per session.
func MicVAD(newSource SourceFactory) EngineFactory {
	return func(ctx context.Context, cfg SessionConfig, cb micvad.Callbacks) (Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := newSource()
		if err != nil {
			return nil, fmt.Errorf("bridge: open audio source: %w", err)
		}
		eng, err := micvad.New(cfg, cb, src)
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		return eng, nil
	}
}

// Microphone is a SourceFactory for the default capture device.
func Microphone() (micvad.Source, error) {
	return micvad.NewMicSource(), nil
}

// WAVFile is a SourceFactory replaying path for every session. With realtime
// set, samples are pushed at the file's rate.
func WAVFile(path string, realtime bool) SourceFactory {
	return func() (micvad.Source, error) {
		src, err := micvad.NewWAVSource(path)
		if err != nil {
			return nil, err
		}
		src.Realtime = realtime
		return src, nil
	}
}
