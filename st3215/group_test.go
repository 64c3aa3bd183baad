package st3215

import (
	"context"
	"errors"
	"testing"
)

func TestGroupMoveAll(t *testing.T) {
	bus, sim, _ := newSimBus(t, 1, 2)
	group := NewGroup(bus, 1, 2)

	err := group.MoveAll(context.Background(), map[int]int{1: 1000, 2: 3000}, 1500, 40)
	if err != nil {
		t.Fatalf("MoveAll failed: %v", err)
	}

	for id, want := range map[byte]uint16{1: 1000, 2: 3000} {
		servo := sim.Servos[id]
		if got := servo.Word(RegGoalPosition.Address); got != want {
			t.Errorf("servo %d goal: got %d, want %d", id, got, want)
		}
		if got := servo.Regs[RegAcceleration.Address]; got != 40 {
			t.Errorf("servo %d acceleration: got %d, want 40", id, got)
		}
		if got := servo.Word(RegGoalSpeed.Address); got != 1500 {
			t.Errorf("servo %d speed: got %d, want 1500", id, got)
		}
		if got := servo.Word(RegGoalTime.Address); got != 0 {
			t.Errorf("servo %d goal time: got %d, want 0", id, got)
		}
	}
}

func TestGroupMoveAllValidation(t *testing.T) {
	bus, sim, _ := newSimBus(t, 1, 2)
	group := NewGroup(bus, 1, 2)
	ctx := context.Background()

	cases := []struct {
		name      string
		positions map[int]int
		speed     int
		accel     int
	}{
		{"position high", map[int]int{1: MaxPosition + 1}, 0, 0},
		{"position negative", map[int]int{1: -5}, 0, 0},
		{"speed high", map[int]int{1: 100}, MaxSpeed + 1, 0},
		{"speed negative", map[int]int{1: 100}, -100, 0},
		{"acceleration high", map[int]int{1: 100}, 0, 255},
	}

	for _, tc := range cases {
		err := group.MoveAll(ctx, tc.positions, tc.speed, tc.accel)
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("%s: got %v, want ValidationError", tc.name, err)
		}
	}

	// A rejected command never reaches the wire for any member.
	if len(sim.WriteLog) != 0 {
		t.Errorf("validation failures reached the wire: %v", sim.WriteLog)
	}
}

func TestGroupMoveAllUnknownIDIgnoredOnWire(t *testing.T) {
	bus, sim, _ := newSimBus(t, 1)
	group := NewGroup(bus, 1, 9)

	// The broadcast goes out regardless; the absent servo simply never acts
	// on it, and no response is expected from anyone.
	err := group.MoveAll(context.Background(), map[int]int{1: 500, 9: 700}, 0, 0)
	if err != nil {
		t.Fatalf("MoveAll failed: %v", err)
	}
	if got := sim.Servos[1].Word(RegGoalPosition.Address); got != 500 {
		t.Errorf("servo 1 goal: got %d, want 500", got)
	}
}

func TestGroupWaitAll(t *testing.T) {
	bus, sim, _ := newSimBus(t, 1, 2)
	group := NewGroup(bus, 1, 2)

	// Servo 1 stops after two polls, servo 2 immediately.
	polls := 0
	sim.Servos[1].OnRead = func(address, length byte) ([]byte, bool) {
		if address != RegMoving.Address {
			return nil, false
		}
		polls++
		if polls <= 2 {
			return []byte{1}, true
		}
		return []byte{0}, true
	}

	if err := group.WaitAll(context.Background(), MoveOptions{}); err != nil {
		t.Fatalf("WaitAll failed: %v", err)
	}
	if polls != 3 {
		t.Errorf("servo 1 polls: got %d, want 3", polls)
	}
}

func TestGroupIDs(t *testing.T) {
	bus, _, _ := newSimBus(t, 1)
	group := NewGroup(bus, 3, 1, 7)

	want := []int{3, 1, 7}
	got := group.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IDs: got %v, want %v", got, want)
		}
	}
	if len(group.Servos()) != 3 {
		t.Errorf("Servos: got %d, want 3", len(group.Servos()))
	}
}
