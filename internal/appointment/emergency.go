package appointment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EmergencyRouter picks the on-call veterinarian for an emergency request.
type EmergencyRouter struct {
	directory    Directory
	availability AvailabilityStore
	appointments AppointmentStore
}

func NewEmergencyRouter(directory Directory, availability AvailabilityStore, appointments AppointmentStore) *EmergencyRouter {
	return &EmergencyRouter{
		directory:    directory,
		availability: availability,
		appointments: appointments,
	}
}

type candidate struct {
	vetID uuid.UUID
	load  int
}

// Assign returns the first of Candidates.
func (r *EmergencyRouter) Assign(ctx context.Context, at time.Time, d time.Duration) (uuid.UUID, error) {
	vets, err := r.Candidates(ctx, at, d)
	if err != nil {
		return uuid.Nil, err
	}
	return vets[0], nil
}

// Candidates lists the on-call veterinarians that can take an emergency of
// duration d starting at `at`, best first. A vet qualifies when a window covers
// `at`, it holds no pending, confirmed or emergency appointments, and nothing
// still on its calendar overlaps the emergency. Ties go to the lowest ID so
// selection is reproducible.
func (r *EmergencyRouter) Candidates(ctx context.Context, at time.Time, d time.Duration) ([]uuid.UUID, error) {
	vets, err := r.directory.ListUsersByRole(ctx, RoleOnCallVeterinarian)
	if err != nil {
		return nil, wrapStore("list on-call veterinarians", err)
	}

	slot := OccupiedInterval(at, d)
	var eligible []candidate
	for _, vet := range vets {
		windows, err := r.availability.ListAvailabilityByVet(ctx, vet.ID)
		if err != nil {
			return nil, wrapStore("load availability", err)
		}
		if !coveredBy(windows, at) {
			continue
		}

		load, err := r.appointments.CountByVetAndStates(ctx, vet.ID, LoadStates)
		if err != nil {
			return nil, wrapStore("count active appointments", err)
		}
		if load > 0 {
			continue
		}

		// completed visits still occupy their interval and buffer
		fits, err := r.fits(ctx, vet.ID, slot)
		if err != nil {
			return nil, err
		}
		if !fits {
			continue
		}
		eligible = append(eligible, candidate{vetID: vet.ID, load: load})
	}

	if len(eligible) == 0 {
		return nil, ErrNoVetAvailable
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].load != eligible[j].load {
			return eligible[i].load < eligible[j].load
		}
		return eligible[i].vetID.String() < eligible[j].vetID.String()
	})

	out := make([]uuid.UUID, len(eligible))
	for i, c := range eligible {
		out[i] = c.vetID
	}
	return out, nil
}

func (r *EmergencyRouter) fits(ctx context.Context, vetID uuid.UUID, slot Interval) (bool, error) {
	existing, err := r.appointments.ListActiveByVet(ctx, vetID)
	if err != nil {
		return false, wrapStore("load active appointments", err)
	}
	return firstConflict(slot, existing) == nil, nil
}

// Verify fails with ErrEmergencyAlreadyActive if the veterinarian already holds an
// emergency, and with ErrSlotOverlap if a booking landed on the slot since
// selection. Callers run it under the veterinarian's lock, right before the insert.
func (r *EmergencyRouter) Verify(ctx context.Context, vetID uuid.UUID, slot Interval) error {
	n, err := r.appointments.CountByVetAndStates(ctx, vetID, []State{StateEmergency})
	if err != nil {
		return wrapStore("count emergency appointments", err)
	}
	if n > 0 {
		return ErrEmergencyAlreadyActive
	}

	fits, err := r.fits(ctx, vetID, slot)
	if err != nil {
		return err
	}
	if !fits {
		return ErrSlotOverlap
	}
	return nil
}
