package replay

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/c360/gcslink/errors"
)

// Config controls replay pacing and read sizes.
type Config struct {
	// RawChunkSize is how many bytes of a raw log are pushed to the parser per step.
	RawChunkSize int `yaml:"raw_chunk_size" json:"raw_chunk_size" env:"RAW_CHUNK_SIZE"`
	// PauseInterval is the idle step while paused.
	PauseInterval time.Duration `yaml:"pause_interval" json:"pause_interval" env:"PAUSE_INTERVAL"`
	// MaxDelta is the timestamp gap at or above which pacing treats the stream
	// as discontinuous and does not wait.
	MaxDelta time.Duration `yaml:"max_delta" json:"max_delta" env:"MAX_DELTA"`
	// MinSleep is the shortest pacing wait worth sleeping for.
	MinSleep time.Duration `yaml:"min_sleep" json:"min_sleep" env:"MIN_SLEEP"`
	// Speed is the initial playback speed factor.
	Speed float64 `yaml:"speed" json:"speed" env:"SPEED"`
}

// DefaultConfig returns the standard replay settings.
func DefaultConfig() Config {
	return Config{
		RawChunkSize:  256,
		PauseInterval: 10 * time.Millisecond,
		MaxDelta:      5 * time.Second,
		MinSleep:      time.Millisecond,
		Speed:         1.0,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.RawChunkSize <= 0:
		return invalid("raw chunk size %d", c.RawChunkSize)
	case c.PauseInterval <= 0:
		return invalid("pause interval %s", c.PauseInterval)
	case c.MaxDelta <= 0:
		return invalid("max delta %s", c.MaxDelta)
	case c.MinSleep < 0:
		return invalid("min sleep %s", c.MinSleep)
	case !validSpeed(c.Speed):
		return invalid("speed %v", c.Speed)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "check replay config")
}

func validSpeed(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Kind selects how a log file is read.
type Kind int

const (
	// KindRaw is a captured byte stream that must be parsed again.
	KindRaw Kind = iota
	// KindDecoded is a sequence of fixed-size telemetry records.
	KindDecoded
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindDecoded:
		return "decoded"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "raw" or "decoded" (also "parsed", the capture file suffix).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw":
		return KindRaw, nil
	case "decoded", "parsed":
		return KindDecoded, nil
	default:
		return 0, errors.WrapInvalid(fmt.Errorf("%w: log kind %q", errors.ErrInvalidConfig, s),
			"replay", "ParseKind", "parse log kind")
	}
}
