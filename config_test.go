package micvad

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := validateConfig(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"positive above one", func(c *Config) { c.PositiveSpeechThreshold = 1.2 }, "positiveSpeechThreshold"},
		{"negative below zero", func(c *Config) { c.NegativeSpeechThreshold = -0.1 }, "negativeSpeechThreshold"},
		{"negative above positive", func(c *Config) { c.NegativeSpeechThreshold = 0.6 }, "<= positiveSpeechThreshold"},
		{"negative pad", func(c *Config) { c.PreSpeechPadFrames = -1 }, "preSpeechPadFrames"},
		{"negative redemption", func(c *Config) { c.RedemptionFrames = -1 }, "redemptionFrames"},
		{"negative min speech", func(c *Config) { c.MinSpeechFrames = -1 }, "minSpeechFrames"},
		{"v5 frame size", func(c *Config) { c.FrameSamples = 1024 }, "must be 512"},
		{"legacy frame size", func(c *Config) { c.Model = ModelLegacy; c.FrameSamples = 800 }, "512, 1024 or 1536"},
		{"unknown model", func(c *Config) { c.Model = "v9" }, "unknown model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := validateConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("validateConfig = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLegacyFrameSizesAccepted(t *testing.T) {
	for _, n := range []int{512, 1024, 1536} {
		cfg := DefaultConfig()
		cfg.Model = ModelLegacy
		cfg.FrameSamples = n
		if err := validateConfig(cfg); err != nil {
			t.Errorf("frameSamples %d: %v", n, err)
		}
	}
}

func TestModelPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseAssetPath = "/models"
	if p, _ := cfg.ModelPath(); p != filepath.Join("/models", modelFileV5) {
		t.Errorf("v5 path = %s", p)
	}
	cfg.Model = ModelLegacy
	if p, _ := cfg.ModelPath(); p != filepath.Join("/models", modelFileLegacy) {
		t.Errorf("legacy path = %s", p)
	}
}

func TestCheckAssets(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BaseAssetPath = dir

	err := CheckAssets(cfg)
	if err == nil || !strings.Contains(err.Error(), "model file not found") {
		t.Fatalf("CheckAssets = %v, want missing model error", err)
	}
	if err := os.WriteFile(filepath.Join(dir, modelFileV5), []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckAssets(cfg); err != nil {
		t.Fatalf("CheckAssets with model present: %v", err)
	}
}

func TestNewReportsConfigErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseAssetPath = t.TempDir()
	if _, err := New(cfg, Callbacks{}, nil); err == nil || !strings.Contains(err.Error(), "model file not found") {
		t.Fatalf("New = %v, want missing model error", err)
	}
	cfg.Model = "v9"
	if _, err := New(cfg, Callbacks{}, nil); err == nil || !strings.Contains(err.Error(), "unknown model") {
		t.Fatalf("New = %v, want unknown model error", err)
	}
}
