// Package config provides the configuration schema and loader for the
// vadbridge daemon.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/vadbridge/pkg/vad"
	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the vadbridge daemon.
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

// SlogLevel converts l to its [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
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

// knownEngines lists the engine names the daemon can construct.
var knownEngines = []string{"silero", "energy"}

// Config is the root configuration structure for the vadbridge daemon.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Capture CaptureConfig `yaml:"capture"`
	VAD     vad.Config    `yaml:"vad"`
}

// ServerConfig holds network and logging settings for the daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":9102").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig selects and locates the inference engine.
type EngineConfig struct {
	// Name selects the engine: "silero" (ONNX) or "energy" (pure Go).
	Name string `yaml:"name"`

	// ModelPath is the path to the Silero VAD ONNX model file. Required for
	// the silero engine, ignored by energy.
	ModelPath string `yaml:"model_path"`

	// LibraryPath points at the ONNX Runtime shared library. Empty means
	// auto-detection.
	LibraryPath string `yaml:"library_path"`
}

// CaptureConfig configures the optional microphone capture source.
type CaptureConfig struct {
	// Enabled turns device capture on. When off, the daemon only serves
	// metrics and health and audio must be fed programmatically.
	Enabled bool `yaml:"enabled"`

	// BufferFrames is the size of the capture ring in detection frames.
	// Defaults to 8.
	BufferFrames int `yaml:"buffer_frames"`
}

// Default returns the daemon configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9102",
			LogLevel:   LogInfo,
		},
		Engine: EngineConfig{Name: "energy"},
		VAD:    vad.DefaultConfig(),
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
// Fields absent from the document keep their [Default] values. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	if cfg.Engine.Name != "" && !slices.Contains(knownEngines, cfg.Engine.Name) {
		errs = append(errs, fmt.Errorf("engine.name %q is invalid; valid values: silero, energy", cfg.Engine.Name))
	}
	if cfg.Engine.Name == "silero" && cfg.Engine.ModelPath == "" {
		errs = append(errs, errors.New("engine.model_path is required for the silero engine"))
	}
	if cfg.Engine.Name == "energy" && cfg.Engine.ModelPath != "" {
		slog.Warn("engine.model_path is set but the energy engine has no model file; ignoring",
			"model_path", cfg.Engine.ModelPath)
	}

	if cfg.Capture.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_frames %d must not be negative", cfg.Capture.BufferFrames))
	}

	if err := vad.ValidateConfig(cfg.VAD); err != nil {
		errs = append(errs, fmt.Errorf("vad: %w", err))
	}

	return errors.Join(errs...)
}
