// Package protocol defines the parser and converter contracts that sit between
// raw link bytes and telemetry values, plus a reference framing used by the
// gcslink tools.
//
// Raw bytes flow into a Parser, which publishes decoded packets; a Converter
// turns packets into telemetry.Data. Both report through event signals so the
// live link and the replay engine can share the same pipeline.
package protocol

import (
	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/telemetry"
)

// Packet is one decoded protocol unit.
type Packet interface {
	ID() uint8
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(payload []byte) error
}

// Parser accumulates bytes and recognizes frames.
type Parser interface {
	// Push appends bytes to the parser's buffer and publishes any complete
	// packets before returning.
	Push(data []byte)
	// Reset discards partially accumulated frames.
	Reset()
	Packets() *event.Signal[Packet]
	// ChecksumFailures carries the bytes of frames that failed verification.
	ChecksumFailures() *event.Signal[[]byte]
}

// Converter turns decoded packets into telemetry values.
type Converter interface {
	Convert(p Packet)
	// Reset discards reference state accumulated from earlier packets.
	Reset()
	Telemetry() *event.Signal[telemetry.Data]
}

// Pipe subscribes c to the packets of p. The returned token owns the link.
func Pipe(p Parser, c Converter) *event.Token {
	return p.Packets().Subscribe(c.Convert)
}
