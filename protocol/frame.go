package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/c360/gcslink/errors"
)

// Frame layout: Sync(2) | ID(1) | Len(1) | Payload(0-255) | CRC32(4)
// The CRC32 (IEEE) covers ID, Len and Payload and is stored little-endian.
const (
	Sync0 byte = 0xAA
	Sync1 byte = 0x55

	SyncSize       = 2
	HeaderSize     = SyncSize + 2
	CRCSize        = 4
	MaxPayloadSize = 255
	MinFrameSize   = HeaderSize + CRCSize
	MaxFrameSize   = HeaderSize + MaxPayloadSize + CRCSize
)

// EncodeFrame serializes p into a complete frame.
func EncodeFrame(p Packet) ([]byte, error) {
	payload, err := p.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "protocol", "EncodeFrame", "marshal packet")
	}
	return EncodeRaw(p.ID(), payload)
}

// EncodeRaw frames an already serialized payload.
func EncodeRaw(id uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: payload %d bytes exceeds %d", errors.ErrInvalidData, len(payload), MaxPayloadSize),
			"protocol", "EncodeRaw", "frame payload")
	}

	frame := make([]byte, HeaderSize+len(payload)+CRCSize)
	frame[0] = Sync0
	frame[1] = Sync1
	frame[2] = id
	frame[3] = byte(len(payload))
	copy(frame[HeaderSize:], payload)

	crcPos := HeaderSize + len(payload)
	binary.LittleEndian.PutUint32(frame[crcPos:], crc32.ChecksumIEEE(frame[SyncSize:crcPos]))
	return frame, nil
}

// frameSize returns the full length of the frame whose header starts at b[0],
// or 0 if the header is incomplete.
func frameSize(b []byte) int {
	if len(b) < HeaderSize {
		return 0
	}
	return HeaderSize + int(b[3]) + CRCSize
}

// verifyFrame checks the CRC of a complete frame.
func verifyFrame(frame []byte) bool {
	crcPos := len(frame) - CRCSize
	want := binary.LittleEndian.Uint32(frame[crcPos:])
	return crc32.ChecksumIEEE(frame[SyncSize:crcPos]) == want
}
