package st3215

import (
	"context"
	"fmt"
)

// Servo is a handle for one servo on a bus. It holds nothing but the ID:
// every operation round-trips to the hardware, which stays the single source
// of truth for servo state.
type Servo struct {
	bus *Bus
	id  int
}

// NewServo creates a handle for the servo with the given ID.
func NewServo(bus *Bus, id int) *Servo {
	return &Servo{bus: bus, id: id}
}

// ID returns the servo's bus ID.
func (s *Servo) ID() int {
	return s.id
}

// Ping checks whether this servo responds on the bus.
func (s *Servo) Ping(ctx context.Context) (bool, error) {
	return s.bus.Ping(ctx, s.id)
}

// ReadRaw reads a register and returns its raw value: little-endian assembly
// for two-byte registers, then direction-bit extraction for sign-magnitude
// fields. No scale is applied.
func (s *Servo) ReadRaw(ctx context.Context, reg Register) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, reg.Address, reg.Size)
	if err != nil {
		return 0, err
	}
	if len(data) < reg.Size {
		return 0, &CommError{Op: "read " + reg.Name, ID: s.id, Result: CommMalformed}
	}

	var raw int
	if reg.Size == 2 {
		raw = int(word(data))
	} else {
		raw = int(data[0])
	}
	return decodeSignMagnitude(raw, reg.SignBit), nil
}

// Read reads a register and applies its scale, producing the caller-facing
// unit (volts, milliamps, percent).
func (s *Servo) Read(ctx context.Context, reg Register) (float64, error) {
	raw, err := s.ReadRaw(ctx, reg)
	if err != nil {
		return 0, err
	}
	scale := reg.Scale
	if scale == 0 {
		scale = 1
	}
	return float64(raw) * scale, nil
}

// Write validates value against the register's declared range and access,
// encodes it (re-inserting the direction bit for negative magnitudes) and
// issues the bus write. Out-of-range values are rejected locally and never
// reach the wire.
func (s *Servo) Write(ctx context.Context, reg Register, value int) error {
	if reg.ReadOnly {
		return &ValidationError{Register: reg.Name, Value: value, Reason: "register is read-only"}
	}
	if value < reg.Min || value > reg.Max {
		return &ValidationError{
			Register: reg.Name,
			Value:    value,
			Reason:   fmt.Sprintf("out of range [%d, %d]", reg.Min, reg.Max),
		}
	}

	encoded := encodeSignMagnitude(value, reg.SignBit)
	var data []byte
	if reg.Size == 2 {
		data = putWord(uint16(encoded))
	} else {
		data = []byte{byte(encoded)}
	}

	return s.bus.WriteRegister(ctx, s.id, reg.Address, data)
}

// Telemetry

// Position reads the current shaft position in steps (0-4095).
func (s *Servo) Position(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegPresentPosition)
}

// Speed reads the current rotation speed in step/s; negative means reverse.
func (s *Servo) Speed(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegPresentSpeed)
}

// Load reads the current output load in percent; negative means reverse.
func (s *Servo) Load(ctx context.Context) (float64, error) {
	return s.Read(ctx, RegPresentLoad)
}

// Voltage reads the supply voltage in volts.
func (s *Servo) Voltage(ctx context.Context) (float64, error) {
	return s.Read(ctx, RegPresentVoltage)
}

// Current reads the motor current in milliamps.
func (s *Servo) Current(ctx context.Context) (float64, error) {
	return s.Read(ctx, RegPresentCurrent)
}

// Temperature reads the internal temperature in degrees Celsius.
func (s *Servo) Temperature(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegPresentTemp)
}

// Moving reports whether the servo is currently in motion.
func (s *Servo) Moving(ctx context.Context) (bool, error) {
	raw, err := s.ReadRaw(ctx, RegMoving)
	if err != nil {
		return false, err
	}
	return raw != 0, nil
}

// Status reads the servo's fault flags. A zero value means no fault.
func (s *Servo) Status(ctx context.Context) (StatusError, error) {
	raw, err := s.ReadRaw(ctx, RegStatus)
	if err != nil {
		return 0, err
	}
	return StatusError(raw), nil
}

// ModelNumber reads the hardware model number (777 for the ST3215).
func (s *Servo) ModelNumber(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegModelNumber)
}

// Configuration

// Mode reads the operating mode (ModePosition, ModeSpeed, ModePWM, ModeStep).
func (s *Servo) Mode(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegOperatingMode)
}

// SetMode sets the operating mode.
func (s *Servo) SetMode(ctx context.Context, mode int) error {
	return s.Write(ctx, RegOperatingMode, mode)
}

// Acceleration reads the acceleration setting (unit: 100 step/s²).
func (s *Servo) Acceleration(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegAcceleration)
}

// SetAcceleration sets the acceleration (0-254, unit: 100 step/s²).
func (s *Servo) SetAcceleration(ctx context.Context, acceleration int) error {
	return s.Write(ctx, RegAcceleration, acceleration)
}

// SetSpeed sets the goal speed in step/s. The sign is conveyed through the
// direction bit; magnitude is clamped by range validation at 3400.
func (s *Servo) SetSpeed(ctx context.Context, speed int) error {
	return s.Write(ctx, RegGoalSpeed, speed)
}

// PositionCorrection reads the position correction offset in steps.
func (s *Servo) PositionCorrection(ctx context.Context) (int, error) {
	return s.ReadRaw(ctx, RegPositionCorrection)
}

// SetPositionCorrection writes the position correction offset in steps
// (-2047 to 2047, direction bit 11).
func (s *Servo) SetPositionCorrection(ctx context.Context, correction int) error {
	return s.Write(ctx, RegPositionCorrection, correction)
}

// WritePosition writes the goal position register without touching speed or
// acceleration. Motion starts as soon as the write lands.
func (s *Servo) WritePosition(ctx context.Context, position int) error {
	return s.Write(ctx, RegGoalPosition, position)
}

// Torque control

// TorqueEnabled reports whether output torque is on.
func (s *Servo) TorqueEnabled(ctx context.Context) (bool, error) {
	raw, err := s.ReadRaw(ctx, RegTorqueEnable)
	if err != nil {
		return false, err
	}
	return raw != 0, nil
}

// EnableTorque powers the output stage on.
func (s *Servo) EnableTorque(ctx context.Context) error {
	return s.Write(ctx, RegTorqueEnable, 1)
}

// DisableTorque powers the output stage off, letting the shaft spin freely.
func (s *Servo) DisableTorque(ctx context.Context) error {
	return s.Write(ctx, RegTorqueEnable, 0)
}

// SetTorqueNeutral redefines the current shaft position as the canonical
// center (2048).
func (s *Servo) SetTorqueNeutral(ctx context.Context) error {
	return s.Write(ctx, RegTorqueEnable, TorqueNeutral)
}

// EEPROM management

// LockEEPROM protects the configuration region against writes.
func (s *Servo) LockEEPROM(ctx context.Context) error {
	return s.Write(ctx, RegLock, 1)
}

// UnlockEEPROM releases the configuration region for writes.
func (s *Servo) UnlockEEPROM(ctx context.Context) error {
	return s.Write(ctx, RegLock, 0)
}

// ChangeID reassigns the servo's bus ID. The EEPROM is unlocked for the write
// and re-locked afterwards; the handle follows the new ID on success.
func (s *Servo) ChangeID(ctx context.Context, newID int) error {
	if newID < 0 || newID > MaxServoID {
		return fmt.Errorf("%w: %d", ErrInvalidID, newID)
	}

	ok, err := s.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &ServoError{ID: s.id, Op: "change_id", Err: ErrNoResponse}
	}

	if err := s.UnlockEEPROM(ctx); err != nil {
		return fmt.Errorf("unlock eeprom: %w", err)
	}
	if err := s.Write(ctx, RegID, newID); err != nil {
		return fmt.Errorf("write id: %w", err)
	}
	s.id = newID
	if err := s.LockEEPROM(ctx); err != nil {
		return fmt.Errorf("lock eeprom: %w", err)
	}
	return nil
}
