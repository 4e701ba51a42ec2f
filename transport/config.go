package transport

import (
	"fmt"
	"time"

	"github.com/c360/gcslink/errors"
)

// Config holds link settings applied on every Open.
type Config struct {
	BaudRate      int           `yaml:"baud_rate" json:"baud_rate" env:"BAUD_RATE"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	ReadChunkSize int           `yaml:"read_chunk_size" json:"read_chunk_size" env:"READ_CHUNK_SIZE"`
}

// DefaultConfig returns 115200 baud with a 10ms read timeout and 64 byte reads.
func DefaultConfig() Config {
	return Config{
		BaudRate:      115200,
		ReadTimeout:   10 * time.Millisecond,
		ReadChunkSize: 64,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: baud rate %d", errors.ErrInvalidConfig, c.BaudRate),
			"Config", "Validate", "check baud rate")
	}
	if c.ReadTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: read timeout %s", errors.ErrInvalidConfig, c.ReadTimeout),
			"Config", "Validate", "check read timeout")
	}
	if c.ReadChunkSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: read chunk size %d", errors.ErrInvalidConfig, c.ReadChunkSize),
			"Config", "Validate", "check read chunk size")
	}
	return nil
}
