package appointment

import (
	"errors"
	"testing"
	"time"
)

func TestParseState(t *testing.T) {
	for _, s := range []string{"pending", "confirmed", "completed", "cancelled", "emergency"} {
		got, err := ParseState(s)
		if err != nil {
			t.Errorf("ParseState(%q) unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseState(%q) = %q", s, got)
		}
	}

	for _, s := range []string{"", "Pendiente", "PENDING", "expired"} {
		if _, err := ParseState(s); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseState(%q) expected ErrValidation, got %v", s, err)
		}
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("on_call_veterinarian")
	if err != nil || r != RoleOnCallVeterinarian {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("receptionist"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown role, got %v", err)
	}
	if !RoleOnCallVeterinarian.IsVet() || !RoleVeterinarian.IsVet() {
		t.Error("both veterinarian roles should be vets")
	}
	if RoleClient.IsVet() || RoleAdmin.IsVet() {
		t.Error("client and admin are not vets")
	}
}

func TestStateActive(t *testing.T) {
	tests := map[State]bool{
		StatePending:   true,
		StateConfirmed: true,
		StateCompleted: true,
		StateEmergency: true,
		StateCancelled: false,
	}
	for s, want := range tests {
		if got := s.Active(); got != want {
			t.Errorf("%s.Active() = %t, want %t", s, got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	all := []State{StatePending, StateConfirmed, StateCompleted, StateCancelled, StateEmergency}
	allowed := map[[2]State]bool{
		{StatePending, StateConfirmed}:   true,
		{StatePending, StateCancelled}:   true,
		{StateConfirmed, StateCompleted}: true,
		{StateConfirmed, StateCancelled}: true,
		{StateEmergency, StateCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %t, want %t", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []State{StateCompleted, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("%s should have no outbound transitions", s)
		}
	}
}

func TestIntervalOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mk := func(startMin, endMin int) Interval {
		return Interval{
			Start: base.Add(time.Duration(startMin) * time.Minute),
			End:   base.Add(time.Duration(endMin) * time.Minute),
		}
	}

	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", mk(0, 40), mk(0, 40), true},
		{"b starts inside a", mk(0, 40), mk(30, 70), true},
		{"a starts inside b", mk(30, 70), mk(0, 40), true},
		{"b contained in a", mk(0, 60), mk(10, 20), true},
		{"touching end to start", mk(0, 40), mk(40, 80), false},
		{"touching start to end", mk(40, 80), mk(0, 40), false},
		{"disjoint", mk(0, 10), mk(20, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestOccupiedInterval(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	got := OccupiedInterval(start, 30*time.Minute)
	if !got.End.Equal(start.Add(40 * time.Minute)) {
		t.Errorf("30m checkup should occupy until 10:40, got %s", got.End.Format("15:04"))
	}

	// variable-duration types occupy only the buffer
	got = OccupiedInterval(start, 0)
	if !got.End.Equal(start.Add(TurnoverBuffer)) {
		t.Errorf("zero duration should occupy the buffer only, got %s", got.End.Sub(got.Start))
	}
}

func TestAvailabilityWindowContainsInclusive(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := AvailabilityWindow{Start: start, End: start.Add(8 * time.Hour)}

	if !w.Contains(start) {
		t.Error("window start should be contained")
	}
	if !w.Contains(w.End) {
		t.Error("window end should be contained")
	}
	if w.Contains(start.Add(-time.Second)) || w.Contains(w.End.Add(time.Second)) {
		t.Error("instants outside the window should not be contained")
	}
}
