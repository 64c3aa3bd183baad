package transports

import (
	"io"
	"sync"
	"time"
)

// SimTransport emulates a bus of servos at the register level: it parses the
// instruction packets written to it and queues the status packets a real
// servo would answer with. IDs with no SimServo entry simply never respond,
// which exercises the driver's timeout paths.
type SimTransport struct {
	mu      sync.Mutex
	pending []byte

	Servos map[byte]*SimServo

	// WriteLog records every register write applied to any servo, in order.
	WriteLog []SimWrite
}

// SimWrite is one recorded register write.
type SimWrite struct {
	ID      byte
	Address byte
	Data    []byte
}

// SimServo holds the register file of one emulated servo.
type SimServo struct {
	// Regs is byte-addressed; multi-byte registers occupy consecutive cells
	// little-endian, exactly as on the wire.
	Regs map[byte]byte

	// Status is the fault-flag byte returned in every status packet.
	Status byte

	// OnRead, if set, intercepts reads. Returning ok=false falls through to
	// Regs.
	OnRead func(address, length byte) (data []byte, ok bool)

	// OnWrite, if set, observes every write after it is applied to Regs.
	OnWrite func(address byte, data []byte)
}

// NewSimServo creates an emulated servo with an empty register file.
func NewSimServo() *SimServo {
	return &SimServo{Regs: make(map[byte]byte)}
}

// SetWord stores a two-byte register value little-endian.
func (s *SimServo) SetWord(address byte, value uint16) {
	s.Regs[address] = byte(value)
	s.Regs[address+1] = byte(value >> 8)
}

// Word reads a two-byte register value.
func (s *SimServo) Word(address byte) uint16 {
	return uint16(s.Regs[address]) | uint16(s.Regs[address+1])<<8
}

// NewSimTransport creates a simulated bus with servos at the given IDs.
func NewSimTransport(ids ...byte) *SimTransport {
	t := &SimTransport{Servos: make(map[byte]*SimServo)}
	for _, id := range ids {
		t.Servos[id] = NewSimServo()
	}
	return t
}

// WritesTo returns the recorded data of every write to one register of one
// servo, oldest first.
func (t *SimTransport) WritesTo(id, address byte) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out [][]byte
	for _, w := range t.WriteLog {
		if w.ID == id && w.Address == address {
			out = append(out, w.Data)
		}
	}
	return out
}

const (
	simInstPing      = 0x01
	simInstRead      = 0x02
	simInstWrite     = 0x03
	simInstRegWrite  = 0x04
	simInstSyncWrite = 0x83
	simBroadcastID   = 0xFE
)

func (t *SimTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The driver writes one complete frame per call.
	if len(p) < 6 || p[0] != 0xFF || p[1] != 0xFF {
		return len(p), nil
	}
	id := p[2]
	length := int(p[3])
	if 4+length > len(p) {
		return len(p), nil
	}
	if simChecksum(p[2:4+length-1]) != p[4+length-1] {
		return len(p), nil
	}
	inst := p[4]
	params := p[5 : 4+length-1]

	switch inst {
	case simInstPing:
		if servo, ok := t.Servos[id]; ok && id != simBroadcastID {
			t.respond(id, servo.Status, nil)
		}

	case simInstRead:
		servo, ok := t.Servos[id]
		if !ok || id == simBroadcastID || len(params) < 2 {
			break
		}
		address, n := params[0], params[1]
		data, ok := servo.readRegs(address, n)
		if !ok {
			break
		}
		t.respond(id, servo.Status, data)

	case simInstWrite, simInstRegWrite:
		if len(params) < 1 {
			break
		}
		address, data := params[0], params[1:]
		if id == simBroadcastID {
			for sid, servo := range t.Servos {
				t.applyWrite(sid, servo, address, data)
			}
			break
		}
		servo, ok := t.Servos[id]
		if !ok {
			break
		}
		t.applyWrite(id, servo, address, data)
		t.respond(id, servo.Status, nil)

	case simInstSyncWrite:
		if len(params) < 2 {
			break
		}
		address, n := params[0], int(params[1])
		rest := params[2:]
		for len(rest) >= 1+n {
			sid := rest[0]
			data := rest[1 : 1+n]
			if servo, ok := t.Servos[sid]; ok {
				t.applyWrite(sid, servo, address, data)
			}
			rest = rest[1+n:]
		}
	}

	return len(p), nil
}

func (t *SimTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *SimTransport) Close() error {
	return nil
}

func (t *SimTransport) SetReadTimeout(timeout time.Duration) error {
	return nil
}

func (t *SimTransport) Flush() error {
	// A real flush only discards stale bytes; queued responses to the
	// just-written request arrive after the flush, so keep them.
	return nil
}

func (t *SimTransport) applyWrite(id byte, servo *SimServo, address byte, data []byte) {
	for i, b := range data {
		servo.Regs[address+byte(i)] = b
	}
	record := make([]byte, len(data))
	copy(record, data)
	t.WriteLog = append(t.WriteLog, SimWrite{ID: id, Address: address, Data: record})
	if servo.OnWrite != nil {
		servo.OnWrite(address, data)
	}
}

func (s *SimServo) readRegs(address, length byte) ([]byte, bool) {
	if s.OnRead != nil {
		if data, ok := s.OnRead(address, length); ok {
			return data, true
		}
	}
	data := make([]byte, length)
	for i := range data {
		data[i] = s.Regs[address+byte(i)]
	}
	return data, true
}

func (t *SimTransport) respond(id, status byte, params []byte) {
	frame := make([]byte, 0, 6+len(params))
	frame = append(frame, 0xFF, 0xFF, id, byte(len(params)+2), status)
	frame = append(frame, params...)
	frame = append(frame, simChecksum(frame[2:]))
	t.pending = append(t.pending, frame...)
}

func simChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}
