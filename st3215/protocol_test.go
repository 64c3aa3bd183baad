package st3215

import (
	"bytes"
	"testing"
)

func TestPingPacket(t *testing.T) {
	// Ping servo ID 1: FF FF 01 02 01 FB
	// Checksum = ~(01 + 02 + 01) = ~04 = FB
	packet := PingPacket(0x01)
	expected := []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}

	if !bytes.Equal(packet, expected) {
		t.Errorf("PingPacket: got %X, want %X", packet, expected)
	}
}

func TestReadPacket(t *testing.T) {
	// Read 2 bytes from address 0x38 on servo ID 1:
	// FF FF 01 04 02 38 02 BE
	packet := ReadPacket(0x01, 0x38, 0x02)
	expected := []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x38, 0x02, 0xBE}

	if !bytes.Equal(packet, expected) {
		t.Errorf("ReadPacket: got %X, want %X", packet, expected)
	}
}

func TestWritePacket(t *testing.T) {
	// Write ID value 1 to address 5 using broadcast:
	// FF FF FE 04 03 05 01 F4
	packet := WritePacket(BroadcastID, 0x05, []byte{0x01})
	expected := []byte{0xFF, 0xFF, 0xFE, 0x04, 0x03, 0x05, 0x01, 0xF4}

	if !bytes.Equal(packet, expected) {
		t.Errorf("WritePacket: got %X, want %X", packet, expected)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		id          byte
		instruction byte
		params      []byte
	}{
		{1, InstPing, nil},
		{1, InstRead, []byte{0x38, 0x02}},
		{42, InstWrite, []byte{0x2A, 0x00, 0x08}},
		{253, InstWrite, []byte{0x29, 0x64}},
		{7, InstRegWrite, []byte{0x2A, 0xFF, 0x0F}},
	}

	for _, tc := range cases {
		frame := EncodePacket(tc.id, tc.instruction, tc.params)
		resp, result := DecodeResponse(tc.id, frame)
		if result != CommSuccess {
			t.Errorf("decode(%X): got %v, want success", frame, result)
			continue
		}
		if resp.ID != tc.id {
			t.Errorf("ID: got %d, want %d", resp.ID, tc.id)
		}
		if byte(resp.Status) != tc.instruction {
			t.Errorf("instruction slot: got %02X, want %02X", byte(resp.Status), tc.instruction)
		}
		if !bytes.Equal(resp.Params, tc.params) {
			t.Errorf("params: got %X, want %X", resp.Params, tc.params)
		}
	}
}

func TestDecodeChecksumSensitivity(t *testing.T) {
	frame := EncodePacket(0x01, InstWrite, []byte{0x2A, 0x00, 0x08})

	// Corrupting any byte from the ID onward must not decode successfully.
	for i := 2; i < len(frame); i++ {
		corrupted := make([]byte, len(frame))
		copy(corrupted, frame)
		corrupted[i] ^= 0x5A

		if _, result := DecodeResponse(0x01, corrupted); result == CommSuccess {
			t.Errorf("byte %d corrupted: decode still succeeded", i)
		}
	}

	// A flipped payload byte specifically reads as a checksum mismatch.
	corrupted := make([]byte, len(frame))
	copy(corrupted, frame)
	corrupted[6] ^= 0x01
	if _, result := DecodeResponse(0x01, corrupted); result != CommChecksum {
		t.Errorf("payload corruption: got %v, want %v", result, CommChecksum)
	}
}

func TestDecodeResponse(t *testing.T) {
	// Response to ping: FF FF 01 02 00 FC
	resp, result := DecodeResponse(0x01, []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC})
	if result != CommSuccess {
		t.Fatalf("result: got %v, want success", result)
	}
	if resp.ID != 0x01 {
		t.Errorf("ID: got %d, want 1", resp.ID)
	}
	if resp.Status != 0 {
		t.Errorf("status: got %v, want 0", resp.Status)
	}
}

func TestDecodeResponseWithData(t *testing.T) {
	// Read position response: FF FF 01 04 00 18 05 DD
	// Position value 0x0518 = 1304, little-endian.
	resp, result := DecodeResponse(0x01, []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x18, 0x05, 0xDD})
	if result != CommSuccess {
		t.Fatalf("result: got %v, want success", result)
	}
	if len(resp.Params) != 2 {
		t.Fatalf("params length: got %d, want 2", len(resp.Params))
	}
	if pos := word(resp.Params); pos != 0x0518 {
		t.Errorf("position: got %d, want %d", pos, 0x0518)
	}
}

func TestDecodeLeadingNoise(t *testing.T) {
	raw := []byte{0x00, 0x12, 0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}
	resp, result := DecodeResponse(0x01, raw)
	if result != CommSuccess {
		t.Fatalf("result: got %v, want success", result)
	}
	if resp.ID != 0x01 {
		t.Errorf("ID: got %d, want 1", resp.ID)
	}
}

func TestDecodeIDMismatch(t *testing.T) {
	raw := []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}
	if _, result := DecodeResponse(0x02, raw); result != CommIDMismatch {
		t.Errorf("result: got %v, want %v", result, CommIDMismatch)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{0xFF},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},             // no sync bytes
		{0xFF, 0xFF, 0x01, 0x08, 0x00, 0xFC},             // length exceeds frame
		{0xFF, 0xFF, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00}, // length below minimum
	}

	for _, raw := range cases {
		if _, result := DecodeResponse(0x01, raw); result != CommMalformed {
			t.Errorf("decode(%X): got %v, want %v", raw, result, CommMalformed)
		}
	}
}

func TestSignMagnitudeRoundTrip(t *testing.T) {
	// Position-correction field: direction bit 11, 11-bit magnitude.
	for v := -2047; v <= 2047; v++ {
		encoded := encodeSignMagnitude(v, 11)
		if encoded < 0 || encoded > 0xFFFF {
			t.Fatalf("value %d: encoded %d out of 16-bit range", v, encoded)
		}
		if decoded := decodeSignMagnitude(encoded, 11); decoded != v {
			t.Fatalf("value %d: round-tripped to %d", v, decoded)
		}
	}

	if encoded := encodeSignMagnitude(0, 11); encoded&(1<<11) != 0 {
		t.Error("zero must encode with the direction bit clear")
	}
}

func TestSignMagnitudeSpeedField(t *testing.T) {
	// Goal-speed field: direction bit 15.
	encoded := encodeSignMagnitude(-200, 15)
	if encoded != 0x80C8 {
		t.Errorf("encode(-200): got %04X, want 80C8", encoded)
	}
	if decoded := decodeSignMagnitude(0x80C8, 15); decoded != -200 {
		t.Errorf("decode(80C8): got %d, want -200", decoded)
	}
}

func TestSyncWritePacket(t *testing.T) {
	servoData := map[byte][]byte{
		1: {0x32, 0x00, 0x08, 0x00, 0x00, 0x60, 0x09},
	}
	packet := SyncWritePacket(0x29, 7, servoData)

	if packet[0] != 0xFF || packet[1] != 0xFF {
		t.Error("missing sync bytes")
	}
	if packet[2] != BroadcastID {
		t.Error("sync write must broadcast")
	}
	if packet[4] != InstSyncWrite {
		t.Errorf("instruction: got %02X, want %02X", packet[4], InstSyncWrite)
	}
	if packet[5] != 0x29 {
		t.Errorf("address: got %02X, want 29", packet[5])
	}
	if packet[6] != 7 {
		t.Errorf("data length: got %d, want 7", packet[6])
	}
	if packet[len(packet)-1] != checksum(packet[2:len(packet)-1]) {
		t.Error("checksum invalid")
	}
}

func TestStatusErrorString(t *testing.T) {
	if (StatusError(0)).HasError() {
		t.Error("zero status must report no error")
	}

	err := StatusOverload | StatusTemperature
	if !err.HasError() {
		t.Error("expected fault flags to report an error")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
}
