package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file.
const (
	EnvListenAddr = "MICVAD_LISTEN_ADDR"
	EnvLogLevel   = "MICVAD_LOG_LEVEL"
	EnvDiagLog    = "MICVAD_DIAG_LOG"
	EnvAssetPath  = "MICVAD_ASSET_PATH"
	EnvORTPath    = "MICVAD_ORT_PATH"
)

// Loader reads the YAML file at Path (optional) and applies environment
// overrides. Tests can override Lookup to inject deterministic maps.
type Loader struct {
	Path   string
	Lookup func(string) (string, bool)
}

// Load returns the validated configuration.
func (l Loader) Load() (*Config, error) {
	if l.Path == "" {
		return l.finish(Default())
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", l.Path, err)
	}
	cfg, err := l.parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", l.Path, err)
	}
	return cfg, nil
}

func (l Loader) parse(data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

func (l Loader) finish(cfg *Config) (*Config, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	overrideString(lookup, EnvListenAddr, &cfg.Server.ListenAddr)
	overrideString(lookup, EnvDiagLog, &cfg.Server.DiagLogPath)
	overrideString(lookup, EnvAssetPath, &cfg.Session.BaseAssetPath)
	overrideString(lookup, EnvORTPath, &cfg.Session.OnnxRuntimePath)
	var level string
	overrideString(lookup, EnvLogLevel, &level)
	if level != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(level))
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// it. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.DiagLogMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("server.diag_log_max_bytes must be >= 0, got %d", cfg.Server.DiagLogMaxBytes))
	}
	switch cfg.Audio.Source {
	case SourceMic:
	case SourceWAV:
		if cfg.Audio.WAVPath == "" {
			errs = append(errs, errors.New("audio.wav_path is required when audio.source is wav"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: mic, wav", cfg.Audio.Source))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}
