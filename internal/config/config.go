// Package config defines the framepump configuration file and its loader.
package config

import (
	"log/slog"
	"time"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultPoolCapacity = 8
	DefaultRetryDelay   = 5 * time.Millisecond
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

// Level converts l to a slog level. Unset and unknown levels map to info.
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

// EngineName selects the decode engine for an input.
type EngineName string

const (
	EngineY4M    EngineName = "y4m"
	EngineOpus   EngineName = "opus"
	EngineFFmpeg EngineName = "ffmpeg"
)

// IsValid reports whether e names a known engine.
func (e EngineName) IsValid() bool {
	switch e {
	case EngineY4M, EngineOpus, EngineFFmpeg:
		return true
	}
	return false
}

// Config is the root configuration.
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PoolCapacity bounds the decoded buffers each input keeps in flight.
	PoolCapacity int `yaml:"pool_capacity"`

	// RetryDelay is how long a stalled decoder waits before retrying when
	// no buffer is returned.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// MetricsAddr enables the Prometheus /metrics endpoint when set.
	MetricsAddr string `yaml:"metrics_addr"`

	Inputs []Input `yaml:"inputs"`
}

// Input is one source to decode.
type Input struct {
	Key    string     `yaml:"key"`
	Path   string     `yaml:"path"`
	Engine EngineName `yaml:"engine"`

	// InterleavedChroma makes the y4m engine emit NV12.
	InterleavedChroma bool `yaml:"interleaved_chroma"`

	// VideoOut and AudioOut receive packed frames. Empty discards.
	VideoOut string `yaml:"video_out"`
	AudioOut string `yaml:"audio_out"`
}
