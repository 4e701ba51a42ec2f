package protocol

import (
	"log/slog"
	"sync"

	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/telemetry"
)

// TelemetryConverter is the reference Converter. It publishes the sample
// carried by each TelemetryPacket and ignores other packet types.
type TelemetryConverter struct {
	logger *slog.Logger

	mu            sync.Mutex
	converted     uint64
	ignored       uint64
	lastTimestamp uint32
	hasLast       bool

	telemetry event.Signal[telemetry.Data]
}

// NewTelemetryConverter creates a converter.
func NewTelemetryConverter(logger *slog.Logger) *TelemetryConverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryConverter{logger: logger.With("component", "telemetry-converter")}
}

func (c *TelemetryConverter) Telemetry() *event.Signal[telemetry.Data] { return &c.telemetry }

// Convert implements Converter.
func (c *TelemetryConverter) Convert(p Packet) {
	tp, ok := p.(*TelemetryPacket)
	if !ok {
		c.mu.Lock()
		c.ignored++
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.hasLast && tp.Data.Timestamp < c.lastTimestamp {
		c.logger.Debug("telemetry timestamp went backwards",
			"previous", c.lastTimestamp, "current", tp.Data.Timestamp)
	}
	c.converted++
	c.lastTimestamp = tp.Data.Timestamp
	c.hasLast = true
	c.mu.Unlock()

	c.telemetry.Publish(tp.Data)
}

// Reset implements Converter.
func (c *TelemetryConverter) Reset() {
	c.mu.Lock()
	c.converted = 0
	c.ignored = 0
	c.lastTimestamp = 0
	c.hasLast = false
	c.mu.Unlock()
}

// Converted returns how many packets became telemetry since the last Reset.
func (c *TelemetryConverter) Converted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.converted
}

// LastTimestamp returns the timestamp of the most recent sample, if any.
func (c *TelemetryConverter) LastTimestamp() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTimestamp, c.hasLast
}
