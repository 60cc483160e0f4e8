// Package config holds the vadbridge daemon configuration: a YAML file with
// environment overrides, validated on load and watched for changes.
package config

import (
	"log/slog"

	micvad "github.com/cortexswarm/micvad-go"
)

const (
	// DefaultListenAddr keeps the host channel on loopback unless configured.
	DefaultListenAddr = "127.0.0.1:8765"
	DefaultLogLevel   = LogInfo
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level; unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AudioSource selects where sessions read audio from.
type AudioSource string

const (
	SourceMic AudioSource = "mic"
	SourceWAV AudioSource = "wav"
)

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `yaml:"server"`
	// Session is used for host start requests that carry no parameters.
	Session micvad.Config `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr serves /host, /healthz, /readyz and /metrics.
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`

	// DiagLogPath enables the NDJSON diagnostic log when set.
	DiagLogPath     string `yaml:"diag_log_path"`
	DiagLogMaxBytes int64  `yaml:"diag_log_max_bytes"`
}

// AudioConfig selects the session audio input.
type AudioConfig struct {
	Source AudioSource `yaml:"source"`
	// WAVPath is replayed for every session when Source is "wav".
	WAVPath string `yaml:"wav_path"`
	// Realtime paces WAV replay at the file's sample rate.
	Realtime bool `yaml:"realtime"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   DefaultLogLevel,
		},
		Session: micvad.DefaultConfig(),
		Audio: AudioConfig{
			Source:   SourceMic,
			Realtime: true,
		},
	}
}
