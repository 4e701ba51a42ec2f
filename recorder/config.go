package recorder

import (
	"github.com/c360/gcslink/errors"
)

// Config holds configuration for the log writer.
type Config struct {
	// Dir is where capture files are created. It is created on first use.
	Dir string `yaml:"dir" json:"dir" env:"DIR"`
}

// DefaultConfig returns the default log directory settings.
func DefaultConfig() Config {
	return Config{Dir: "logs"}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	return nil
}
