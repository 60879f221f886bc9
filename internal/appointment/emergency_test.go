package appointment

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newRouterFixture() (*memoryStore, *EmergencyRouter) {
	store := newMemoryStore()
	store.addType(checkupType)
	store.addType(emergencyTyp)
	return store, NewEmergencyRouter(store, store, store)
}

func addOnCall(store *memoryStore, name string) User {
	vet := store.addUser(name, RoleOnCallVeterinarian)
	store.addWindow(vet.ID, at(0, 0), at(23, 59))
	return vet
}

func TestEmergencyRouter_PicksIdleVet(t *testing.T) {
	store, router := newRouterFixture()
	a := addOnCall(store, "Dr. A")
	b := addOnCall(store, "Dr. B")
	store.addAppointment(b.ID, at(8, 0), checkupType, StatePending)

	got, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != a.ID {
		t.Errorf("expected idle vet %s, got %s", a.ID, got)
	}
}

func TestEmergencyRouter_LoadStates(t *testing.T) {
	tests := []struct {
		state    State
		eligible bool
	}{
		{StatePending, false},
		{StateConfirmed, false},
		{StateEmergency, false},
		{StateCompleted, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			store, router := newRouterFixture()
			vet := addOnCall(store, "Dr. A")
			store.addAppointment(vet.ID, at(8, 0), checkupType, tt.state)

			got, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration)
			if tt.eligible {
				if err != nil || got != vet.ID {
					t.Fatalf("expected %s to be eligible, got %s, %v", vet.ID, got, err)
				}
				return
			}
			if !errors.Is(err, ErrNoVetAvailable) {
				t.Fatalf("expected ErrNoVetAvailable, got %v", err)
			}
		})
	}
}

func TestEmergencyRouter_NoVetAvailable(t *testing.T) {
	t.Run("no on-call vets", func(t *testing.T) {
		_, router := newRouterFixture()
		if _, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration); !errors.Is(err, ErrNoVetAvailable) {
			t.Fatalf("expected ErrNoVetAvailable, got %v", err)
		}
	})

	t.Run("outside every window", func(t *testing.T) {
		store, router := newRouterFixture()
		vet := store.addUser("Dr. Night", RoleOnCallVeterinarian)
		store.addWindow(vet.ID, at(20, 0), at(23, 0))

		if _, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration); !errors.Is(err, ErrNoVetAvailable) {
			t.Fatalf("expected ErrNoVetAvailable, got %v", err)
		}
	})

	t.Run("all busy", func(t *testing.T) {
		store, router := newRouterFixture()
		for _, name := range []string{"Dr. A", "Dr. B"} {
			v := addOnCall(store, name)
			store.addAppointment(v.ID, at(9, 0), checkupType, StateConfirmed)
		}
		if _, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration); !errors.Is(err, ErrNoVetAvailable) {
			t.Fatalf("expected ErrNoVetAvailable, got %v", err)
		}
	})
}

func TestEmergencyRouter_IgnoresRegularVets(t *testing.T) {
	store, router := newRouterFixture()
	regular := store.addUser("Dr. Regular", RoleVeterinarian)
	store.addWindow(regular.ID, at(0, 0), at(23, 59))

	if _, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration); !errors.Is(err, ErrNoVetAvailable) {
		t.Fatalf("expected ErrNoVetAvailable, got %v", err)
	}
}

func TestEmergencyRouter_TieBreaksOnLowestID(t *testing.T) {
	store, router := newRouterFixture()
	var want uuid.UUID
	for i, name := range []string{"Dr. A", "Dr. B", "Dr. C", "Dr. D"} {
		v := addOnCall(store, name)
		if i == 0 || v.ID.String() < want.String() {
			want = v.ID
		}
	}

	// ListUsersByRole returns map order, so repeat to catch order dependence
	for i := 0; i < 20; i++ {
		got, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("expected lowest id %s, got %s", want, got)
		}
	}
}

func TestEmergencyRouter_Verify(t *testing.T) {
	store, router := newRouterFixture()
	vet := addOnCall(store, "Dr. A")
	ctx := context.Background()
	slot := OccupiedInterval(at(12, 0), emergencyTyp.Duration)

	if err := router.Verify(ctx, vet.ID, slot); err != nil {
		t.Fatalf("vet without emergencies should verify: %v", err)
	}

	store.addAppointment(vet.ID, at(11, 55), checkupType, StatePending)
	if err := router.Verify(ctx, vet.ID, slot); !errors.Is(err, ErrSlotOverlap) {
		t.Fatalf("expected ErrSlotOverlap for a booking on the slot, got %v", err)
	}

	store.addAppointment(vet.ID, at(12, 0), emergencyTyp, StateEmergency)
	if err := router.Verify(ctx, vet.ID, slot); !errors.Is(err, ErrEmergencyAlreadyActive) {
		t.Fatalf("expected ErrEmergencyAlreadyActive, got %v", err)
	}
}

func TestEmergencyRouter_SkipsVetStillOccupied(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		eligible bool
	}{
		{"completed visit runs past now", at(11, 50), false},
		{"buffer of completed visit covers now", at(11, 25), false},
		{"completed visit ends exactly now", at(11, 20), true},
		{"completed visit starts inside the emergency", at(12, 5), false},
		{"completed visit starts after the emergency", at(12, 10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, router := newRouterFixture()
			vet := addOnCall(store, "Dr. A")
			store.addAppointment(vet.ID, tt.start, checkupType, StateCompleted)

			got, err := router.Assign(context.Background(), at(12, 0), emergencyTyp.Duration)
			if tt.eligible {
				if err != nil || got != vet.ID {
					t.Fatalf("expected %s to be eligible, got %s, %v", vet.ID, got, err)
				}
				return
			}
			if !errors.Is(err, ErrNoVetAvailable) {
				t.Fatalf("expected ErrNoVetAvailable, got %v", err)
			}
		})
	}
}

func TestEmergencyRouter_CandidatesOrdered(t *testing.T) {
	store, router := newRouterFixture()
	var ids []string
	for _, name := range []string{"Dr. A", "Dr. B", "Dr. C"} {
		ids = append(ids, addOnCall(store, name).ID.String())
	}
	sort.Strings(ids)

	got, err := router.Candidates(context.Background(), at(12, 0), emergencyTyp.Duration)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("expected %d candidates, got %d", len(ids), len(got))
	}
	for i := range ids {
		if got[i].String() != ids[i] {
			t.Errorf("candidate %d: expected %s, got %s", i, ids[i], got[i])
		}
	}
}
