package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.PoolCapacity == 0 {
		cfg.PoolCapacity = DefaultPoolCapacity
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	for i := range cfg.Inputs {
		if cfg.Inputs[i].Engine == "" {
			cfg.Inputs[i].Engine = EngineY4M
		}
	}
}

// ApplyEnv applies FRAMEPUMP_METRICS_ADDR and DEBUG.
func ApplyEnv(cfg *Config) {
	cfg.MetricsAddr = envOr("FRAMEPUMP_METRICS_ADDR", cfg.MetricsAddr)
	if os.Getenv("DEBUG") != "" {
		cfg.LogLevel = LogDebug
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.PoolCapacity < 1 {
		errs = append(errs, fmt.Errorf("pool_capacity %d must be at least 1", cfg.PoolCapacity))
	}
	if cfg.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay %s must not be negative", cfg.RetryDelay))
	}
	if len(cfg.Inputs) == 0 {
		errs = append(errs, errors.New("at least one input is required"))
	}

	seen := make(map[string]int, len(cfg.Inputs))
	for i, in := range cfg.Inputs {
		prefix := fmt.Sprintf("inputs[%d]", i)
		if in.Key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		} else {
			if prev, ok := seen[in.Key]; ok {
				errs = append(errs, fmt.Errorf("%s.key %q is a duplicate of inputs[%d]", prefix, in.Key, prev))
			}
			seen[in.Key] = i
		}
		if in.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		if !in.Engine.IsValid() {
			errs = append(errs, fmt.Errorf("%s.engine %q is invalid; valid values: y4m, opus, ffmpeg", prefix, in.Engine))
		}
		if in.InterleavedChroma && in.Engine != EngineY4M {
			errs = append(errs, fmt.Errorf("%s.interleaved_chroma only applies to the y4m engine", prefix))
		}
		if in.VideoOut != "" && in.VideoOut == in.AudioOut {
			errs = append(errs, fmt.Errorf("%s.video_out and audio_out must differ", prefix))
		}
	}

	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
