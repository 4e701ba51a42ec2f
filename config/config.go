package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/gcslink/errors"
	"github.com/c360/gcslink/recorder"
	"github.com/c360/gcslink/replay"
	"github.com/c360/gcslink/transport"
)

// Config represents the complete application configuration.
type Config struct {
	Log       LogConfig           `yaml:"log" json:"log" envPrefix:"LOG_"`
	Transport transport.Config    `yaml:"transport" json:"transport" envPrefix:"TRANSPORT_"`
	Network   transport.NetConfig `yaml:"network" json:"network" envPrefix:"NETWORK_"`
	Replay    replay.Config       `yaml:"replay" json:"replay" envPrefix:"REPLAY_"`
	Recorder  recorder.Config     `yaml:"recorder" json:"recorder" envPrefix:"RECORDER_"`
	Metrics   MetricsConfig       `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Port    int    `yaml:"port" json:"port" env:"PORT"`
	Path    string `yaml:"path" json:"path" env:"PATH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: transport.DefaultConfig(),
		Network:   transport.DefaultNetConfig(),
		Replay:    replay.DefaultConfig(),
		Recorder:  recorder.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: log level %q", errors.ErrInvalidConfig, c.Log.Level),
			"Config", "Validate", "check log level")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: log format %q", errors.ErrInvalidConfig, c.Log.Format),
			"Config", "Validate", "check log format")
	}

	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Replay.Validate(); err != nil {
		return err
	}
	if err := c.Recorder.Validate(); err != nil {
		return err
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: metrics port %d", errors.ErrInvalidConfig, c.Metrics.Port),
			"Config", "Validate", "check metrics port")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: metrics path %q", errors.ErrInvalidConfig, c.Metrics.Path),
			"Config", "Validate", "check metrics path")
	}
	return nil
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("Config{marshal error: %v}", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "marshal config")
	}
	if len(data) > maxConfigSize {
		return errors.WrapInvalid(fmt.Errorf("config data too large: %d bytes", len(data)),
			"Config", "SaveToFile", "check size")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.WrapTransient(err, "Config", "SaveToFile", fmt.Sprintf("write %s", path))
	}
	return nil
}
