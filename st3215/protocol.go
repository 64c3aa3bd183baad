// Package st3215 provides a Go driver for Waveshare/Feetech ST3215 serial bus
// servos: packet framing, register access, motion control and calibration.
package st3215

import "fmt"

// Instruction codes per the STS protocol specification.
const (
	InstPing      byte = 0x01
	InstRead      byte = 0x02
	InstWrite     byte = 0x03
	InstRegWrite  byte = 0x04
	InstAction    byte = 0x05
	InstReset     byte = 0x06
	InstSyncWrite byte = 0x83
)

// Special ID values.
const (
	BroadcastID = 0xFE
	MaxServoID  = 0xFD
)

// Packet header bytes.
const (
	headerByte1 = 0xFF
	headerByte2 = 0xFF
)

// minPacketLen is the smallest complete frame: header(2) + id + length +
// status + checksum.
const minPacketLen = 6

// CommResult classifies the outcome of one bus transaction.
type CommResult int

const (
	CommSuccess CommResult = iota
	CommTimeout
	CommChecksum
	CommIDMismatch
	CommMalformed
)

func (r CommResult) String() string {
	switch r {
	case CommSuccess:
		return "success"
	case CommTimeout:
		return "timeout"
	case CommChecksum:
		return "checksum mismatch"
	case CommIDMismatch:
		return "servo ID mismatch"
	case CommMalformed:
		return "malformed packet"
	default:
		return fmt.Sprintf("comm result %d", int(r))
	}
}

// StatusError is the error-flag byte reported by a servo in every status
// packet. A set bit indicates a fault condition.
type StatusError byte

const (
	StatusVoltage     StatusError = 1 << 0
	StatusSensor      StatusError = 1 << 1
	StatusTemperature StatusError = 1 << 2
	StatusCurrent     StatusError = 1 << 3
	StatusAngle       StatusError = 1 << 4
	StatusOverload    StatusError = 1 << 5
)

var statusNames = []struct {
	flag StatusError
	name string
}{
	{StatusVoltage, "voltage"},
	{StatusSensor, "sensor"},
	{StatusTemperature, "temperature"},
	{StatusCurrent, "current"},
	{StatusAngle, "angle"},
	{StatusOverload, "overload"},
}

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}
	var msgs []string
	for _, s := range statusNames {
		if e&s.flag != 0 {
			msgs = append(msgs, s.name)
		}
	}
	return fmt.Sprintf("servo status error: %v", msgs)
}

// HasError returns true if any fault flag is set.
func (e StatusError) HasError() bool {
	return e != 0
}

// Response is the decoded content of one status packet.
type Response struct {
	ID     byte
	Status StatusError
	Params []byte
}

// EncodePacket builds a wire-format instruction packet:
// header(2) + id + length + instruction + params + checksum, where length
// counts the instruction, parameters and checksum bytes.
func EncodePacket(id, instruction byte, params []byte) []byte {
	length := byte(len(params) + 2)

	buf := make([]byte, 0, minPacketLen+len(params))
	buf = append(buf, headerByte1, headerByte2)
	buf = append(buf, id)
	buf = append(buf, length)
	buf = append(buf, instruction)
	buf = append(buf, params...)
	buf = append(buf, checksum(buf[2:]))

	return buf
}

// DecodeResponse parses a raw status packet expected from servo wantID.
// Leading noise before the sync bytes is skipped. The returned CommResult
// classifies any framing, length, addressing or checksum failure; the
// Response carries valid status flags and parameters only on CommSuccess.
func DecodeResponse(wantID byte, raw []byte) (Response, CommResult) {
	start := -1
	for i := 0; i+minPacketLen <= len(raw); i++ {
		if raw[i] == headerByte1 && raw[i+1] == headerByte2 {
			start = i
			break
		}
	}
	if start < 0 {
		return Response{}, CommMalformed
	}
	raw = raw[start:]

	id := raw[2]
	length := int(raw[3])
	total := 4 + length
	if length < 2 || len(raw) < total {
		return Response{}, CommMalformed
	}

	if id != wantID {
		return Response{ID: id}, CommIDMismatch
	}

	if checksum(raw[2:total-1]) != raw[total-1] {
		return Response{ID: id}, CommChecksum
	}

	resp := Response{
		ID:     id,
		Status: StatusError(raw[4]),
	}
	if n := length - 2; n > 0 {
		resp.Params = make([]byte, n)
		copy(resp.Params, raw[5:5+n])
	}
	return resp, CommSuccess
}

// responseLength returns the expected wire length of a status packet carrying
// n data bytes.
func responseLength(n int) int {
	return minPacketLen + n
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

// Multi-byte register values are little-endian on the wire.

func putWord(value uint16) []byte {
	return []byte{byte(value), byte(value >> 8)}
}

func word(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return uint16(data[0]) | uint16(data[1])<<8
}

// Sign-magnitude helpers. Signed register fields carry the sign in a fixed
// high bit and an unsigned magnitude in the remaining bits.

func decodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}
	mask := 1 << signBit
	if value&mask != 0 {
		return -(value & (mask - 1))
	}
	return value
}

func encodeSignMagnitude(value, signBit int) int {
	if signBit == 0 {
		return value
	}
	if value < 0 {
		return (-value) | 1<<signBit
	}
	return value
}

// Instruction packet builders.

// PingPacket creates a ping instruction packet.
func PingPacket(id byte) []byte {
	return EncodePacket(id, InstPing, nil)
}

// ReadPacket creates a read instruction packet for length bytes at address.
func ReadPacket(id, address, length byte) []byte {
	return EncodePacket(id, InstRead, []byte{address, length})
}

// WritePacket creates a write instruction packet.
func WritePacket(id, address byte, data []byte) []byte {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)
	return EncodePacket(id, InstWrite, params)
}

// RegWritePacket creates a buffered write packet, executed later by Action.
func RegWritePacket(id, address byte, data []byte) []byte {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)
	return EncodePacket(id, InstRegWrite, params)
}

// ActionPacket creates the broadcast trigger for buffered writes.
func ActionPacket() []byte {
	return EncodePacket(BroadcastID, InstAction, nil)
}

// SyncWritePacket creates a sync write packet carrying dataLen bytes at
// address for every servo in servoData.
func SyncWritePacket(address, dataLen byte, servoData map[byte][]byte) []byte {
	params := make([]byte, 0, 2+len(servoData)*(1+int(dataLen)))
	params = append(params, address, dataLen)
	for id, data := range servoData {
		params = append(params, id)
		params = append(params, data...)
	}
	return EncodePacket(BroadcastID, InstSyncWrite, params)
}
