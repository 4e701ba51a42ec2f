package protocol

import "github.com/c360/gcslink/telemetry"

// TelemetryPacketID is the frame id of a full vehicle state sample.
const TelemetryPacketID uint8 = 0x01

// TelemetryPacket carries one telemetry sample in packed form.
type TelemetryPacket struct {
	Data telemetry.Data
}

func (p *TelemetryPacket) ID() uint8 { return TelemetryPacketID }

func (p *TelemetryPacket) MarshalBinary() ([]byte, error) {
	return p.Data.MarshalPacked(), nil
}

func (p *TelemetryPacket) UnmarshalBinary(payload []byte) error {
	return p.Data.UnmarshalPacked(payload)
}
