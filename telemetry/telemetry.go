// Package telemetry defines the decoded vehicle state record and its fixed
// binary layout. Decoded logs are back-to-back records of RecordSize bytes,
// so a file can be indexed and seeked by record count.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/c360/gcslink/errors"
)

// RecordSize is the on-disk size of one Data record, padding included.
const RecordSize = 152

// PackedSize is the size of a record without alignment padding, used as a
// frame payload.
const PackedSize = 143

// Field offsets within a persisted record. The layout mirrors a naturally
// aligned C struct so logs written by earlier ground station builds load
// unchanged.
const (
	offTimestamp = 0
	offPos       = 8
	offVel       = 32
	offAcc       = 56
	offQuat      = 80
	offEuler     = 112
	offRx        = 136
	offTx        = 140
	offFSM       = 144
	offSensor    = 145
	offEjection  = 146
)

// Vec3 is an x, y, z vector.
type Vec3 [3]float64

func (v Vec3) X() float64 { return v[0] }
func (v Vec3) Y() float64 { return v[1] }
func (v Vec3) Z() float64 { return v[2] }

// Quat is an attitude quaternion stored w first.
type Quat [4]float64

func (q Quat) W() float64 { return q[0] }
func (q Quat) X() float64 { return q[1] }
func (q Quat) Y() float64 { return q[2] }
func (q Quat) Z() float64 { return q[3] }

// Euler holds roll, pitch and yaw.
type Euler [3]float64

func (e Euler) Roll() float64  { return e[0] }
func (e Euler) Pitch() float64 { return e[1] }
func (e Euler) Yaw() float64   { return e[2] }

// Data is one decoded telemetry sample.
type Data struct {
	// Timestamp is milliseconds since device boot.
	Timestamp uint32
	Pos       Vec3
	Vel       Vec3
	Acc       Vec3
	Quat      Quat
	Euler     Euler
	RxCount   uint32
	TxCount   uint32
	FSM       uint8
	Sensor    uint8
	Ejection  uint8
}

// MarshalBinary encodes d in the persisted record layout.
func (d Data) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(make([]byte, 0, RecordSize))
}

// AppendBinary appends the persisted encoding of d to b.
func (d Data) AppendBinary(b []byte) ([]byte, error) {
	start := len(b)
	b = append(b, make([]byte, RecordSize)...)
	rec := b[start:]

	binary.LittleEndian.PutUint32(rec[offTimestamp:], d.Timestamp)
	putFloats(rec[offPos:], d.Pos[:])
	putFloats(rec[offVel:], d.Vel[:])
	putFloats(rec[offAcc:], d.Acc[:])
	putFloats(rec[offQuat:], d.Quat[:])
	putFloats(rec[offEuler:], d.Euler[:])
	binary.LittleEndian.PutUint32(rec[offRx:], d.RxCount)
	binary.LittleEndian.PutUint32(rec[offTx:], d.TxCount)
	rec[offFSM] = d.FSM
	rec[offSensor] = d.Sensor
	rec[offEjection] = d.Ejection
	return b, nil
}

// UnmarshalBinary decodes exactly one persisted record.
func (d *Data) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return errors.WrapInvalid(
			fmt.Errorf("%w: record is %d bytes, want %d", errors.ErrInvalidData, len(b), RecordSize),
			"Data", "UnmarshalBinary", "decode record")
	}

	d.Timestamp = binary.LittleEndian.Uint32(b[offTimestamp:])
	getFloats(b[offPos:], d.Pos[:])
	getFloats(b[offVel:], d.Vel[:])
	getFloats(b[offAcc:], d.Acc[:])
	getFloats(b[offQuat:], d.Quat[:])
	getFloats(b[offEuler:], d.Euler[:])
	d.RxCount = binary.LittleEndian.Uint32(b[offRx:])
	d.TxCount = binary.LittleEndian.Uint32(b[offTx:])
	d.FSM = b[offFSM]
	d.Sensor = b[offSensor]
	d.Ejection = b[offEjection]
	return nil
}

// MarshalPacked encodes d without padding, PackedSize bytes, fields in
// record order.
func (d Data) MarshalPacked() []byte {
	b := make([]byte, PackedSize)
	binary.LittleEndian.PutUint32(b[0:], d.Timestamp)
	off := 4
	for _, fs := range [][]float64{d.Pos[:], d.Vel[:], d.Acc[:], d.Quat[:], d.Euler[:]} {
		putFloats(b[off:], fs)
		off += 8 * len(fs)
	}
	binary.LittleEndian.PutUint32(b[off:], d.RxCount)
	binary.LittleEndian.PutUint32(b[off+4:], d.TxCount)
	b[off+8] = d.FSM
	b[off+9] = d.Sensor
	b[off+10] = d.Ejection
	return b
}

// UnmarshalPacked decodes the output of MarshalPacked.
func (d *Data) UnmarshalPacked(b []byte) error {
	if len(b) != PackedSize {
		return errors.WrapInvalid(
			fmt.Errorf("%w: packed record is %d bytes, want %d", errors.ErrInvalidData, len(b), PackedSize),
			"Data", "UnmarshalPacked", "decode packed record")
	}
	d.Timestamp = binary.LittleEndian.Uint32(b[0:])
	off := 4
	for _, fs := range [][]float64{d.Pos[:], d.Vel[:], d.Acc[:], d.Quat[:], d.Euler[:]} {
		getFloats(b[off:], fs)
		off += 8 * len(fs)
	}
	d.RxCount = binary.LittleEndian.Uint32(b[off:])
	d.TxCount = binary.LittleEndian.Uint32(b[off+4:])
	d.FSM = b[off+8]
	d.Sensor = b[off+9]
	d.Ejection = b[off+10]
	return nil
}

// ReadRecord reads one record from r. A partial trailing record is reported
// as errors.ErrShortRead; a clean end of input as io.EOF.
func ReadRecord(r io.Reader) (Data, error) {
	var buf [RecordSize]byte
	n, err := io.ReadFull(r, buf[:])
	switch {
	case err == io.EOF:
		return Data{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		return Data{}, fmt.Errorf("%w: %d of %d bytes", errors.ErrShortRead, n, RecordSize)
	case err != nil:
		return Data{}, err
	}

	var d Data
	if err := d.UnmarshalBinary(buf[:]); err != nil {
		return Data{}, err
	}
	return d, nil
}

// RecordCount returns how many whole records fit in size bytes.
func RecordCount(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return size / RecordSize
}

func putFloats(b []byte, fs []float64) {
	for i, f := range fs {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(f))
	}
}

func getFloats(b []byte, fs []float64) {
	for i := range fs {
		fs[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
}
