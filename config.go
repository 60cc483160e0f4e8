package micvad

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SampleRate is the only rate the Silero models accept.
const SampleRate = 16000

// Model variants understood by New.
const (
	ModelV5     = "v5"
	ModelLegacy = "legacy"
)

// Model file names looked up under Config.BaseAssetPath.
const (
	modelFileV5     = "silero_vad_v5.onnx"
	modelFileLegacy = "silero_vad_legacy.onnx"
)

// Config holds engine configuration. Values are taken as given; New reports
// anything the models cannot run with.
type Config struct {
	PositiveSpeechThreshold float32 `json:"positiveSpeechThreshold" yaml:"positiveSpeechThreshold"` // frame is speech when isSpeech >= this (e.g. 0.5)
	NegativeSpeechThreshold float32 `json:"negativeSpeechThreshold" yaml:"negativeSpeechThreshold"` // frame counts toward redemption when isSpeech < this (e.g. 0.35)

	PreSpeechPadFrames int `json:"preSpeechPadFrames" yaml:"preSpeechPadFrames"` // frames kept before SpeechStart
	RedemptionFrames   int `json:"redemptionFrames" yaml:"redemptionFrames"`     // trailing non-speech frames that end a segment
	FrameSamples       int `json:"frameSamples" yaml:"frameSamples"`             // samples per frame (512 for v5)
	MinSpeechFrames    int `json:"minSpeechFrames" yaml:"minSpeechFrames"`       // speech frames needed for SpeechEnd instead of misfire

	// SubmitUserSpeechOnPause ends an in-progress segment on Pause instead of
	// discarding it.
	SubmitUserSpeechOnPause bool `json:"submitUserSpeechOnPause" yaml:"submitUserSpeechOnPause"`

	Model           string `json:"model" yaml:"model"`                       // ModelV5 or ModelLegacy
	BaseAssetPath   string `json:"baseAssetPath" yaml:"baseAssetPath"`       // directory with the model files
	OnnxRuntimePath string `json:"onnxWASMBasePath" yaml:"onnxWASMBasePath"` // runtime library file or directory; empty uses bundled lookup
}

// DefaultConfig returns the settings the web VAD ships with for the v5 model.
func DefaultConfig() Config {
	return Config{
		PositiveSpeechThreshold: 0.5,
		NegativeSpeechThreshold: 0.35,
		PreSpeechPadFrames:      3,
		RedemptionFrames:        24,
		FrameSamples:            512,
		MinSpeechFrames:         9,
		Model:                   ModelV5,
		BaseAssetPath:           DataDir,
	}
}

// ModelPath returns the model file for cfg.Model under cfg.BaseAssetPath.
func (cfg Config) ModelPath() (string, error) {
	switch cfg.Model {
	case ModelV5:
		return filepath.Join(cfg.BaseAssetPath, modelFileV5), nil
	case ModelLegacy:
		return filepath.Join(cfg.BaseAssetPath, modelFileLegacy), nil
	default:
		return "", fmt.Errorf("config: unknown model %q", cfg.Model)
	}
}

// validateConfig checks settings that do not depend on files.
func validateConfig(cfg Config) error {
	if cfg.PositiveSpeechThreshold < 0 || cfg.PositiveSpeechThreshold > 1 {
		return errors.New("config: positiveSpeechThreshold must be in [0, 1]")
	}
	if cfg.NegativeSpeechThreshold < 0 || cfg.NegativeSpeechThreshold > 1 {
		return errors.New("config: negativeSpeechThreshold must be in [0, 1]")
	}
	if cfg.NegativeSpeechThreshold > cfg.PositiveSpeechThreshold {
		return errors.New("config: negativeSpeechThreshold must be <= positiveSpeechThreshold")
	}
	if cfg.PreSpeechPadFrames < 0 {
		return errors.New("config: preSpeechPadFrames must be >= 0")
	}
	if cfg.RedemptionFrames < 0 {
		return errors.New("config: redemptionFrames must be >= 0")
	}
	if cfg.MinSpeechFrames < 0 {
		return errors.New("config: minSpeechFrames must be >= 0")
	}
	switch cfg.Model {
	case ModelV5:
		if cfg.FrameSamples != v5FrameSamples {
			return fmt.Errorf("config: frameSamples must be %d for model %s", v5FrameSamples, ModelV5)
		}
	case ModelLegacy:
		if !legacyFrameSizes[cfg.FrameSamples] {
			return fmt.Errorf("config: frameSamples must be 512, 1024 or 1536 for model %s", ModelLegacy)
		}
	default:
		return fmt.Errorf("config: unknown model %q", cfg.Model)
	}
	return nil
}

// validateAssets checks that the selected model file exists.
func validateAssets(cfg Config) (string, error) {
	path, err := cfg.ModelPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", errors.New("config: model file not found: " + path)
		}
		return "", err
	}
	return path, nil
}

// CheckAssets validates cfg and confirms its model file exists, without
// loading anything.
func CheckAssets(cfg Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	_, err := validateAssets(cfg)
	return err
}
