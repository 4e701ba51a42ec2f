package replay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gcslink/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero chunk", func(c *Config) { c.RawChunkSize = 0 }, false},
		{"zero pause interval", func(c *Config) { c.PauseInterval = 0 }, false},
		{"zero max delta", func(c *Config) { c.MaxDelta = 0 }, false},
		{"negative min sleep", func(c *Config) { c.MinSleep = -time.Millisecond }, false},
		{"zero min sleep", func(c *Config) { c.MinSleep = 0 }, true},
		{"zero speed", func(c *Config) { c.Speed = 0 }, false},
		{"nan speed", func(c *Config) { c.Speed = math.NaN() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNewPlayer_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RawChunkSize = -1
	_, err := NewPlayer(PlayerDeps{Config: cfg})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"raw":      KindRaw,
		"RAW":      KindRaw,
		"decoded":  KindDecoded,
		" parsed ": KindDecoded,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("csv")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	assert.Equal(t, "raw", KindRaw.String())
	assert.Equal(t, "decoded", KindDecoded.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
