package st3215

import (
	"context"
	"fmt"
)

// Group coordinates several servos on one bus. Motion commands fan out as a
// single sync-write broadcast so all members start moving together.
type Group struct {
	bus    *Bus
	servos []*Servo
}

// NewGroup creates a group for the given servo IDs.
func NewGroup(bus *Bus, ids ...int) *Group {
	servos := make([]*Servo, len(ids))
	for i, id := range ids {
		servos[i] = NewServo(bus, id)
	}
	return &Group{bus: bus, servos: servos}
}

// Servos returns the servos in this group.
func (g *Group) Servos() []*Servo {
	return g.servos
}

// IDs returns the servo IDs in this group.
func (g *Group) IDs() []int {
	ids := make([]int, len(g.servos))
	for i, s := range g.servos {
		ids[i] = s.ID()
	}
	return ids
}

// MoveAll commands every servo in positions to its target with one broadcast.
// The sync-write payload covers acceleration, goal position, goal time and
// goal speed in one block, so the motion profile latches atomically per servo.
// Broadcasts produce no responses; absence of an error only means the packet
// went out.
func (g *Group) MoveAll(ctx context.Context, positions map[int]int, speed, acceleration int) error {
	if speed == 0 {
		speed = DefaultMoveSpeed
	}
	if acceleration == 0 {
		acceleration = DefaultMoveAcceleration
	}
	if speed < 0 || speed > MaxSpeed {
		return &ValidationError{Register: RegGoalSpeed.Name, Value: speed, Reason: fmt.Sprintf("out of range [0, %d]", MaxSpeed)}
	}
	if acceleration > RegAcceleration.Max {
		return &ValidationError{Register: RegAcceleration.Name, Value: acceleration, Reason: fmt.Sprintf("out of range [0, %d]", RegAcceleration.Max)}
	}

	// acceleration(1) + position(2) + time(2) + speed(2), starting at the
	// acceleration register.
	const blockLen = 7

	servoData := make(map[int][]byte, len(positions))
	for id, position := range positions {
		if position < 0 || position > MaxPosition {
			return &ValidationError{Register: RegGoalPosition.Name, Value: position, Reason: fmt.Sprintf("out of range [0, %d]", MaxPosition)}
		}

		block := make([]byte, 0, blockLen)
		block = append(block, byte(acceleration))
		block = append(block, putWord(uint16(position))...)
		block = append(block, putWord(0)...)
		block = append(block, putWord(uint16(speed))...)
		servoData[id] = block
	}

	return g.bus.SyncWrite(ctx, RegAcceleration.Address, blockLen, servoData)
}

// WaitAll blocks until every servo in the group reports it has stopped
// moving, polling sequentially.
func (g *Group) WaitAll(ctx context.Context, opts MoveOptions) error {
	opts.applyDefaults()
	for _, s := range g.servos {
		if err := s.WaitStopped(ctx, opts.WaitTimeout, opts.PollInterval); err != nil {
			return err
		}
	}
	return nil
}
