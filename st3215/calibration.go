package st3215

import (
	"context"
	"fmt"
	"time"
)

// Calibration defaults. StallWindow and the poll spacing are the tunables of
// the stall heuristic: a stop is only trusted after StallWindow consecutive
// "not moving" polls while rotation stays commanded.
const (
	DefaultCalibrationSpeed        = 250 // step/s
	DefaultCalibrationAcceleration = 100 // unit: 100 step/s²
	DefaultStallWindow             = 5
	DefaultDirectionTimeout        = 30 * time.Second
	DefaultSettleTime              = 500 * time.Millisecond
)

// CalibrationConfig tunes Calibrate. Zero values select the defaults above.
type CalibrationConfig struct {
	// Speed is the rotation speed magnitude used to seek the limits.
	Speed int
	// Acceleration used while seeking.
	Acceleration int
	// StallWindow is the number of consecutive "not moving" polls required
	// before a position counts as a mechanical stop.
	StallWindow int
	// PollInterval spaces the stall-detection polls.
	PollInterval time.Duration
	// DirectionTimeout bounds the search for each limit. Elapsing without a
	// stall yields ErrStallNotDetected, never a hang.
	DirectionTimeout time.Duration
	// SettleTime is the pause after correction writes and direction changes.
	SettleTime time.Duration
}

func (c *CalibrationConfig) applyDefaults() {
	if c.Speed == 0 {
		c.Speed = DefaultCalibrationSpeed
	}
	if c.Acceleration == 0 {
		c.Acceleration = DefaultCalibrationAcceleration
	}
	if c.StallWindow == 0 {
		c.StallWindow = DefaultStallWindow
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DirectionTimeout == 0 {
		c.DirectionTimeout = DefaultDirectionTimeout
	}
	if c.SettleTime == 0 {
		c.SettleTime = DefaultSettleTime
	}
}

// CalibrationResult reports the mechanical limits found by Calibrate and the
// correction written so their midpoint reads as the canonical center.
type CalibrationResult struct {
	MinPosition int
	MaxPosition int
	Midpoint    int
	Correction  int
}

// Calibrate drives the servo to both mechanical limits by commanding
// continuous rotation and detecting stall, then writes the position
// correction register so the midpoint of travel maps to center (2048) and
// moves the shaft there.
//
// WARNING: only use on servos with at least one mechanical stop. On a
// continuous-rotation servo no stall ever occurs and each direction search
// ends in ErrStallNotDetected after its deadline.
func (s *Servo) Calibrate(ctx context.Context, cfg CalibrationConfig) (CalibrationResult, error) {
	cfg.applyDefaults()
	clock := s.bus.clock

	s.bus.log.Info().Int("id", s.id).Msg("calibrating")

	if err := s.SetPositionCorrection(ctx, 0); err != nil {
		return CalibrationResult{}, fmt.Errorf("clear correction: %w", err)
	}
	if err := clock.Sleep(ctx, cfg.SettleTime); err != nil {
		return CalibrationResult{}, err
	}
	if err := s.SetAcceleration(ctx, cfg.Acceleration); err != nil {
		return CalibrationResult{}, err
	}

	minPos, err := s.seekLimit(ctx, -cfg.Speed, cfg)
	if err != nil {
		return CalibrationResult{}, fmt.Errorf("seek lower limit: %w", err)
	}

	maxPos, err := s.seekLimit(ctx, cfg.Speed, cfg)
	if err != nil {
		return CalibrationResult{}, fmt.Errorf("seek upper limit: %w", err)
	}

	// Midpoint of the reachable arc. When the arc crosses the zero point the
	// raw min reads above the raw max and the span wraps around.
	var midpoint int
	if minPos <= maxPos {
		midpoint = (minPos + maxPos) / 2
	} else {
		span := (MaxPosition + 1) - minPos + maxPos
		midpoint = (minPos + span/2) % (MaxPosition + 1)
	}

	correction := midpoint - CenterPos
	if correction > MaxCorrection {
		correction = MaxCorrection
	}
	if correction < -MaxCorrection {
		correction = -MaxCorrection
	}

	if err := s.SetPositionCorrection(ctx, correction); err != nil {
		return CalibrationResult{}, fmt.Errorf("write correction: %w", err)
	}
	if err := clock.Sleep(ctx, cfg.SettleTime); err != nil {
		return CalibrationResult{}, err
	}

	if err := s.MoveTo(ctx, CenterPos, MoveOptions{}); err != nil {
		return CalibrationResult{}, fmt.Errorf("move to center: %w", err)
	}

	res := CalibrationResult{
		MinPosition: minPos,
		MaxPosition: maxPos,
		Midpoint:    midpoint,
		Correction:  correction,
	}
	s.bus.log.Info().
		Int("id", s.id).
		Int("min", res.MinPosition).
		Int("max", res.MaxPosition).
		Int("midpoint", res.Midpoint).
		Int("correction", res.Correction).
		Msg("calibration complete")
	return res, nil
}

// seekLimit rotates at the given signed speed and returns the position of the
// mechanical stop it runs into.
func (s *Servo) seekLimit(ctx context.Context, speed int, cfg CalibrationConfig) (int, error) {
	if err := s.Rotate(ctx, speed); err != nil {
		return 0, err
	}
	if err := s.bus.clock.Sleep(ctx, cfg.SettleTime); err != nil {
		return 0, err
	}
	return s.BlockingPosition(ctx, cfg)
}

// BlockingPosition polls until the already-commanded rotation stalls and
// returns the position of the stop. On exit (any outcome) the servo is put
// back into position mode with torque released.
//
// Fault flags raised by pushing against the stop (overload, current) are the
// expected detection signal here, not failures; only communication errors
// abort the search.
func (s *Servo) BlockingPosition(ctx context.Context, cfg CalibrationConfig) (pos int, err error) {
	cfg.applyDefaults()
	clock := s.bus.clock
	deadline := clock.Now().Add(cfg.DirectionTimeout)

	defer func() {
		restoreCtx := context.WithoutCancel(ctx)
		if rerr := s.SetMode(restoreCtx, ModePosition); rerr != nil && err == nil {
			err = rerr
		}
		if rerr := s.DisableTorque(restoreCtx); rerr != nil && err == nil {
			err = rerr
		}
	}()

	stops := 0
	for {
		moving, merr := s.movingIgnoreFaults(ctx)
		if merr != nil {
			return 0, merr
		}

		if !moving {
			stops++
			if stops >= cfg.StallWindow {
				return s.positionIgnoreFaults(ctx)
			}
		} else {
			stops = 0
		}

		if !clock.Now().Before(deadline) {
			return 0, fmt.Errorf("servo %d: %w", s.id, ErrStallNotDetected)
		}
		if serr := clock.Sleep(ctx, cfg.PollInterval); serr != nil {
			return 0, serr
		}
	}
}

func (s *Servo) movingIgnoreFaults(ctx context.Context) (bool, error) {
	data, _, err := s.bus.ReadRegisterStatus(ctx, s.id, RegMoving.Address, RegMoving.Size)
	if err != nil {
		return false, err
	}
	if len(data) < 1 {
		return false, &CommError{Op: "read moving", ID: s.id, Result: CommMalformed}
	}
	return data[0] != 0, nil
}

func (s *Servo) positionIgnoreFaults(ctx context.Context) (int, error) {
	data, _, err := s.bus.ReadRegisterStatus(ctx, s.id, RegPresentPosition.Address, RegPresentPosition.Size)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, &CommError{Op: "read position", ID: s.id, Result: CommMalformed}
	}
	return int(word(data)), nil
}
