package st3215

import (
	"context"
	"fmt"
	"time"
)

// Motion defaults, matching the device's sensible operating envelope.
const (
	DefaultMoveSpeed        = 2400 // step/s
	DefaultMoveAcceleration = 50   // unit: 100 step/s²
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultWaitTimeout      = 10 * time.Second
)

// MoveOptions tune a MoveTo call. Zero values select the defaults above.
type MoveOptions struct {
	// Speed in step/s.
	Speed int
	// Acceleration in units of 100 step/s².
	Acceleration int
	// Wait blocks until the servo reports it has stopped moving.
	Wait bool
	// WaitTimeout bounds the wait; elapsing while still moving yields
	// ErrMoveTimeout.
	WaitTimeout time.Duration
	// PollInterval spaces the moving-flag polls.
	PollInterval time.Duration
}

func (o *MoveOptions) applyDefaults() {
	if o.Speed == 0 {
		o.Speed = DefaultMoveSpeed
	}
	if o.Acceleration == 0 {
		o.Acceleration = DefaultMoveAcceleration
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// MoveTo moves the servo to position. Acceleration and speed are staged
// before the goal-position write: the position write is what latches the
// motion profile and starts movement, so the ordering matters.
//
// With opts.Wait set, MoveTo polls the moving flag until the servo stops or
// the wait deadline elapses. A failed position write short-circuits without
// ever polling.
func (s *Servo) MoveTo(ctx context.Context, position int, opts MoveOptions) error {
	opts.applyDefaults()

	s.bus.log.Info().
		Int("id", s.id).
		Int("position", position).
		Int("speed", opts.Speed).
		Int("acceleration", opts.Acceleration).
		Bool("wait", opts.Wait).
		Msg("move")

	if err := s.SetMode(ctx, ModePosition); err != nil {
		return err
	}
	if err := s.SetAcceleration(ctx, opts.Acceleration); err != nil {
		return err
	}
	if err := s.SetSpeed(ctx, opts.Speed); err != nil {
		return err
	}
	if err := s.WritePosition(ctx, position); err != nil {
		return err
	}

	if !opts.Wait {
		return nil
	}
	return s.WaitStopped(ctx, opts.WaitTimeout, opts.PollInterval)
}

// WaitStopped polls the moving flag until the servo reports it has stopped,
// the deadline elapses (ErrMoveTimeout) or ctx is cancelled. The loop never
// blocks unboundedly.
func (s *Servo) WaitStopped(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	clock := s.bus.clock
	deadline := clock.Now().Add(timeout)

	for {
		moving, err := s.Moving(ctx)
		if err != nil {
			return err
		}
		if !moving {
			return nil
		}

		if !clock.Now().Before(deadline) {
			return fmt.Errorf("servo %d: %w", s.id, ErrMoveTimeout)
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Rotate switches the servo into constant-speed mode and starts rotation at
// the given speed in step/s; negative speed reverses direction. The magnitude
// is clamped at MaxSpeed.
func (s *Servo) Rotate(ctx context.Context, speed int) error {
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	if speed < -MaxSpeed {
		speed = -MaxSpeed
	}

	s.bus.log.Info().Int("id", s.id).Int("speed", speed).Msg("rotate")

	if err := s.SetMode(ctx, ModeSpeed); err != nil {
		return err
	}
	return s.SetSpeed(ctx, speed)
}

// Stop cuts output torque, halting any commanded motion.
func (s *Servo) Stop(ctx context.Context) error {
	return s.DisableTorque(ctx)
}
