package st3215

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout          = errors.New("communication timeout")
	ErrNoResponse       = errors.New("no response from servo")
	ErrBusClosed        = errors.New("bus is closed")
	ErrInvalidID        = errors.New("invalid servo ID")
	ErrMoveTimeout      = errors.New("servo still moving at deadline")
	ErrStallNotDetected = errors.New("no mechanical stop detected before deadline")
)

// CommError is a communication-level failure: the servo never produced a
// valid, addressed, checksummed response.
type CommError struct {
	Op     string
	ID     int
	Result CommResult
	Err    error
}

func (e *CommError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("servo %d %s: %s: %v", e.ID, e.Op, e.Result, e.Err)
	}
	return fmt.Sprintf("servo %d %s: %s", e.ID, e.Op, e.Result)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// ServoError is a device-reported failure: communication succeeded but the
// servo flagged a fault or the operation failed on the device.
type ServoError struct {
	ID     int
	Op     string
	Status StatusError
	Err    error
}

func (e *ServoError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("servo %d %s: %s", e.ID, e.Op, e.Status.Error())
	}
	if e.Err != nil {
		return fmt.Sprintf("servo %d %s: %v", e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("servo %d %s failed", e.ID, e.Op)
}

func (e *ServoError) Unwrap() error {
	return e.Err
}

// ValidationError is a local rejection: the value never reached the wire.
type ValidationError struct {
	Register string
	Value    int
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("register %s: value %d rejected: %s", e.Register, e.Value, e.Reason)
}

// IsTimeout reports whether err is a communication timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoResponse) {
		return true
	}
	var commErr *CommError
	return errors.As(err, &commErr) && commErr.Result == CommTimeout
}

// AsServoError extracts a ServoError from an error chain, if present.
func AsServoError(err error) (*ServoError, bool) {
	var servoErr *ServoError
	if errors.As(err, &servoErr) {
		return servoErr, true
	}
	return nil, false
}

// AsCommError extracts a CommError from an error chain, if present.
func AsCommError(err error) (*CommError, bool) {
	var commErr *CommError
	if errors.As(err, &commErr) {
		return commErr, true
	}
	return nil, false
}
