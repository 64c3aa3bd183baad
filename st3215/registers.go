package st3215

// Storage identifies where a register value lives on the servo.
type Storage uint8

const (
	// StorageEEPROM registers persist across power cycles and require the
	// EEPROM lock to be released before writing.
	StorageEEPROM Storage = iota
	// StorageSRAM registers are volatile and reset on power loss.
	StorageSRAM
)

// Register describes one entry of the ST3215 control table.
//
// Size is 1 or 2 bytes; two-byte values are little-endian on the wire.
// SignBit designates the direction bit for sign-magnitude fields (0 means the
// value is plain unsigned). Scale converts the raw value into the
// caller-facing unit; 0 means the raw value is already the unit. Min and Max
// bound the values accepted for writes, in raw signed units.
type Register struct {
	Name     string
	Address  byte
	Size     int
	Storage  Storage
	ReadOnly bool
	SignBit  int
	Scale    float64
	Min, Max int
}

// Mechanical and protocol limits for the ST3215.
const (
	MaxPosition   = 4095 // 12-bit resolution
	CenterPos     = 2048 // canonical middle position
	MaxSpeed      = 3400 // step/s
	MaxCorrection = 2047 // 11-bit magnitude
)

// Control table registers. The table is assembled once at init and never
// mutated; descriptors are shared by reference across all operations.
var (
	RegModelNumber = Register{Name: "model_number", Address: 3, Size: 2, ReadOnly: true}
	RegID          = Register{Name: "id", Address: 5, Size: 1, Max: MaxServoID}
	RegBaudRate    = Register{Name: "baud_rate", Address: 6, Size: 1, Max: 7}
	RegReturnDelay = Register{Name: "return_delay", Address: 7, Size: 1, Max: 254}

	RegMinAngleLimit = Register{Name: "min_angle_limit", Address: 9, Size: 2, Max: MaxPosition}
	RegMaxAngleLimit = Register{Name: "max_angle_limit", Address: 11, Size: 2, Max: MaxPosition}
	RegMaxTempLimit  = Register{Name: "max_temp_limit", Address: 13, Size: 1, Max: 100}
	RegMaxVoltage    = Register{Name: "max_voltage_limit", Address: 14, Size: 1, Scale: 0.1, Max: 254}
	RegMinVoltage    = Register{Name: "min_voltage_limit", Address: 15, Size: 1, Scale: 0.1, Max: 254}
	RegMaxTorque     = Register{Name: "max_torque", Address: 16, Size: 2, Max: 1000}

	RegPositionCorrection = Register{Name: "position_correction", Address: 31, Size: 2, SignBit: 11, Min: -MaxCorrection, Max: MaxCorrection}
	RegOperatingMode      = Register{Name: "operating_mode", Address: 33, Size: 1, Max: 3}
	RegOverloadTorque     = Register{Name: "overload_torque", Address: 36, Size: 1, Max: 100}

	// SRAM region starts at address 40.
	RegTorqueEnable = Register{Name: "torque_enable", Address: 40, Size: 1, Storage: StorageSRAM, Max: 128}
	RegAcceleration = Register{Name: "acceleration", Address: 41, Size: 1, Storage: StorageSRAM, Max: 254}
	RegGoalPosition = Register{Name: "goal_position", Address: 42, Size: 2, Storage: StorageSRAM, Max: MaxPosition}
	RegGoalTime     = Register{Name: "goal_time", Address: 44, Size: 2, Storage: StorageSRAM, Max: 32766}
	RegGoalSpeed    = Register{Name: "goal_speed", Address: 46, Size: 2, Storage: StorageSRAM, SignBit: 15, Min: -MaxSpeed, Max: MaxSpeed}
	RegTorqueLimit  = Register{Name: "torque_limit", Address: 48, Size: 2, Storage: StorageSRAM, Max: 1000}
	RegLock         = Register{Name: "lock", Address: 55, Size: 1, Storage: StorageSRAM, Max: 1}

	RegPresentPosition = Register{Name: "present_position", Address: 56, Size: 2, Storage: StorageSRAM, ReadOnly: true}
	RegPresentSpeed    = Register{Name: "present_speed", Address: 58, Size: 2, Storage: StorageSRAM, ReadOnly: true, SignBit: 15}
	RegPresentLoad     = Register{Name: "present_load", Address: 60, Size: 2, Storage: StorageSRAM, ReadOnly: true, SignBit: 10, Scale: 0.1}
	RegPresentVoltage  = Register{Name: "present_voltage", Address: 62, Size: 1, Storage: StorageSRAM, ReadOnly: true, Scale: 0.1}
	RegPresentTemp     = Register{Name: "present_temp", Address: 63, Size: 1, Storage: StorageSRAM, ReadOnly: true}
	RegStatus          = Register{Name: "status", Address: 65, Size: 1, Storage: StorageSRAM, ReadOnly: true}
	RegMoving          = Register{Name: "moving", Address: 66, Size: 1, Storage: StorageSRAM, ReadOnly: true}
	RegPresentCurrent  = Register{Name: "present_current", Address: 69, Size: 2, Storage: StorageSRAM, ReadOnly: true, Scale: 6.5}
)

// Operating modes (operating_mode register).
const (
	ModePosition = 0
	ModeSpeed    = 1 // constant speed / wheel mode
	ModePWM      = 2
	ModeStep     = 3
)

// Torque enable register values beyond plain on/off.
const (
	// TorqueNeutral redefines the current shaft position as CenterPos.
	TorqueNeutral = 128
)

var registersByName map[string]Register

func init() {
	all := []Register{
		RegModelNumber, RegID, RegBaudRate, RegReturnDelay,
		RegMinAngleLimit, RegMaxAngleLimit, RegMaxTempLimit,
		RegMaxVoltage, RegMinVoltage, RegMaxTorque,
		RegPositionCorrection, RegOperatingMode, RegOverloadTorque,
		RegTorqueEnable, RegAcceleration, RegGoalPosition, RegGoalTime,
		RegGoalSpeed, RegTorqueLimit, RegLock,
		RegPresentPosition, RegPresentSpeed, RegPresentLoad,
		RegPresentVoltage, RegPresentTemp, RegStatus, RegMoving,
		RegPresentCurrent,
	}
	registersByName = make(map[string]Register, len(all))
	for _, r := range all {
		registersByName[r.Name] = r
	}
}

// LookupRegister returns the control table entry with the given name.
func LookupRegister(name string) (Register, bool) {
	r, ok := registersByName[name]
	return r, ok
}

// RegisterNames returns the names of all known control table entries.
func RegisterNames() []string {
	names := make([]string, 0, len(registersByName))
	for name := range registersByName {
		names = append(names, name)
	}
	return names
}
