package st3215

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/servokit/st3215/transports"
)

// Bus owns exclusive access to one serial link. Exactly one transaction is in
// flight at a time; the mutex is held for the full request/response cycle so
// responses can never interleave.
type Bus struct {
	transport Transport
	timeout   time.Duration
	minCmdGap time.Duration
	clock     Clock
	log       zerolog.Logger

	mu          sync.Mutex
	lastCmdTime time.Time
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// Timeout bounds the wait for one response packet. Default is 100ms.
	Timeout time.Duration

	// MinCommandGap is the minimum time between transactions, covering the
	// half-duplex turnaround. Default is 1ms.
	MinCommandGap time.Duration

	// Logger receives per-transaction debug logging. Default is a no-op.
	Logger *zerolog.Logger

	// Clock supplies time to all polling loops. Default is the wall clock.
	Clock Clock
}

// NewBus creates a servo bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
	}

	return &Bus{
		transport:   transport,
		timeout:     cfg.Timeout,
		minCmdGap:   cfg.MinCommandGap,
		clock:       cfg.Clock,
		log:         log,
		lastCmdTime: cfg.Clock.Now(),
	}, nil
}

// Close closes the bus and releases the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Ping checks whether the servo with the given ID is present on the bus.
// A missing servo is an ordinary outcome, not an error: any communication
// failure reports false. The returned error covers local conditions only
// (closed bus, invalid ID).
func (b *Bus) Ping(ctx context.Context, id int) (bool, error) {
	if err := b.validateID(id); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, ErrBusClosed
	}

	_, err := b.transactLocked(ctx, "ping", byte(id), PingPacket(byte(id)), responseLength(0))
	if err != nil {
		if _, ok := AsCommError(err); ok {
			b.log.Debug().Int("id", id).Msg("ping: no response")
			return false, nil
		}
		return false, err
	}

	b.log.Debug().Int("id", id).Msg("ping: servo online")
	return true, nil
}

// Scan sweeps the ID range [startID, endID] with sequential pings and returns
// the responsive IDs in ascending order. Discovery only; servo state is never
// touched.
func (b *Bus) Scan(ctx context.Context, startID, endID int) ([]int, error) {
	if startID < 0 || endID > MaxServoID || startID > endID {
		return nil, fmt.Errorf("%w: scan range %d to %d", ErrInvalidID, startID, endID)
	}

	b.log.Info().Int("start", startID).Int("end", endID).Msg("scanning bus")

	var found []int
	for id := startID; id <= endID; id++ {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		ok, err := b.Ping(ctx, id)
		if err != nil {
			return found, err
		}
		if ok {
			found = append(found, id)
		}
	}

	b.log.Info().Ints("ids", found).Msg("scan complete")
	return found, nil
}

// ReadRegister reads length raw bytes starting at address. Any fault flag
// reported by the servo fails the read with a ServoError; use
// ReadRegisterStatus when a set flag is an expected condition.
func (b *Bus) ReadRegister(ctx context.Context, id int, address byte, length int) ([]byte, error) {
	data, status, err := b.ReadRegisterStatus(ctx, id, address, length)
	if err != nil {
		return nil, err
	}
	if status.HasError() {
		return nil, &ServoError{ID: id, Op: "read", Status: status}
	}
	return data, nil
}

// ReadRegisterStatus reads length raw bytes starting at address and returns
// the servo's fault flags alongside the data. Communication succeeded
// whenever err is nil; whether a set flag fails the operation is the caller's
// decision.
func (b *Bus) ReadRegisterStatus(ctx context.Context, id int, address byte, length int) ([]byte, StatusError, error) {
	if err := b.validateID(id); err != nil {
		return nil, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, 0, ErrBusClosed
	}

	return b.readRegisterLocked(ctx, byte(id), address, byte(length))
}

// WriteRegister writes raw bytes starting at address. A broadcast write is
// fire-and-forget: no response is expected and success is reported as soon as
// the packet is on the wire.
func (b *Bus) WriteRegister(ctx context.Context, id int, address byte, data []byte) error {
	if err := b.validateOrBroadcastID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	return b.writeRegisterLocked(ctx, byte(id), address, data)
}

// RegWrite stages a buffered write on the servo; the servo applies it when an
// Action broadcast arrives.
func (b *Bus) RegWrite(ctx context.Context, id int, address byte, data []byte) error {
	if err := b.validateID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	resp, err := b.transactLocked(ctx, "reg_write", byte(id), RegWritePacket(byte(id), address, data), responseLength(0))
	if err != nil {
		return err
	}
	if resp.Status.HasError() {
		return &ServoError{ID: id, Op: "reg_write", Status: resp.Status}
	}
	return nil
}

// Action triggers execution of all staged RegWrite commands on the bus.
func (b *Bus) Action(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	_, err := b.transactLocked(ctx, "action", BroadcastID, ActionPacket(), 0)
	return err
}

// SyncWrite writes dataLen bytes at address on every servo in servoData with
// a single broadcast packet. No responses are produced.
func (b *Bus) SyncWrite(ctx context.Context, address byte, dataLen int, servoData map[int][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	byteData := make(map[byte][]byte, len(servoData))
	for id, data := range servoData {
		if err := b.validateID(id); err != nil {
			return err
		}
		if len(data) != dataLen {
			return fmt.Errorf("servo %d: data length mismatch: expected %d, got %d", id, dataLen, len(data))
		}
		byteData[byte(id)] = data
	}

	packet := SyncWritePacket(address, byte(dataLen), byteData)
	_, err := b.transactLocked(ctx, "sync_write", BroadcastID, packet, 0)
	return err
}

// Internal methods. All *Locked methods require b.mu held.

func (b *Bus) validateID(id int) error {
	if id < 0 || id > MaxServoID {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return nil
}

func (b *Bus) validateOrBroadcastID(id int) error {
	if id == BroadcastID {
		return nil
	}
	return b.validateID(id)
}

func (b *Bus) readRegisterLocked(ctx context.Context, id, address, length byte) ([]byte, StatusError, error) {
	packet := ReadPacket(id, address, length)
	resp, err := b.transactLocked(ctx, "read", id, packet, responseLength(int(length)))
	if err != nil {
		return nil, 0, err
	}
	return resp.Params, resp.Status, nil
}

func (b *Bus) writeRegisterLocked(ctx context.Context, id, address byte, data []byte) error {
	packet := WritePacket(id, address, data)
	expectLen := responseLength(0)
	if id == BroadcastID {
		expectLen = 0
	}
	resp, err := b.transactLocked(ctx, "write", id, packet, expectLen)
	if err != nil {
		return err
	}
	if resp.Status.HasError() {
		return &ServoError{ID: int(id), Op: "write", Status: resp.Status}
	}
	return nil
}

// transactLocked is one atomic bus transaction: send the request packet, then
// collect and decode exactly one response. A broadcast target (or expectLen
// of 0) skips the response phase entirely.
func (b *Bus) transactLocked(ctx context.Context, op string, id byte, packet []byte, expectLen int) (Response, error) {
	if err := b.sendPacketLocked(ctx, packet); err != nil {
		return Response{}, &CommError{Op: op, ID: int(id), Result: CommTimeout, Err: err}
	}

	if id == BroadcastID || expectLen == 0 {
		b.log.Debug().Str("op", op).Int("id", int(id)).Int("tx", len(packet)).Msg("broadcast sent")
		return Response{}, nil
	}

	raw, err := b.readRawBytesLocked(ctx, expectLen)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		b.log.Debug().Str("op", op).Int("id", int(id)).Err(err).Msg("transaction failed")
		return Response{}, &CommError{Op: op, ID: int(id), Result: CommTimeout, Err: err}
	}

	resp, result := DecodeResponse(id, raw)
	if result != CommSuccess {
		b.log.Debug().Str("op", op).Int("id", int(id)).Stringer("result", result).Msg("transaction failed")
		return Response{}, &CommError{Op: op, ID: int(id), Result: result}
	}

	b.log.Debug().Str("op", op).Int("id", int(id)).Int("tx", len(packet)).Int("rx", len(raw)).Msg("transaction ok")
	return resp, nil
}

func (b *Bus) sendPacketLocked(ctx context.Context, packet []byte) error {
	if err := b.enforceCommandGap(ctx); err != nil {
		return err
	}

	// Drop stale input from a previous timed-out transaction.
	b.transport.Flush()

	n, err := b.transport.Write(packet)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	b.lastCmdTime = b.clock.Now()
	return nil
}

func (b *Bus) enforceCommandGap(ctx context.Context) error {
	elapsed := b.clock.Now().Sub(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		return b.clock.Sleep(ctx, b.minCmdGap-elapsed)
	}
	return ctx.Err()
}

func (b *Bus) readRawBytesLocked(ctx context.Context, expectLen int) ([]byte, error) {
	buffer := make([]byte, expectLen*2)
	totalRead := 0
	deadline := b.clock.Now().Add(b.timeout)

	for totalRead < expectLen {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if b.clock.Now().After(deadline) {
			if totalRead == 0 {
				return nil, ErrNoResponse
			}
			return nil, fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, totalRead, expectLen)
		}

		remaining := max(deadline.Sub(b.clock.Now()), 10*time.Millisecond)
		b.transport.SetReadTimeout(remaining)

		n, err := b.transport.Read(buffer[totalRead:])
		if err != nil {
			if n == 0 {
				if serr := b.clock.Sleep(ctx, time.Millisecond); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("read error: %w", err)
		}

		totalRead += n
	}

	return buffer[:totalRead], nil
}
