package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OverlapChecker decides whether a candidate booking fits the veterinarian's calendar.
type OverlapChecker struct {
	availability AvailabilityStore
	appointments AppointmentStore
	types        TypeCatalog
}

func NewOverlapChecker(availability AvailabilityStore, appointments AppointmentStore, types TypeCatalog) *OverlapChecker {
	return &OverlapChecker{
		availability: availability,
		appointments: appointments,
		types:        types,
	}
}

// Check returns nil when a booking of typeID at `at` with vetID is acceptable,
// ErrOutOfAvailability when no window covers `at`, and ErrSlotOverlap when the
// candidate's occupied interval collides with an active appointment.
func (c *OverlapChecker) Check(ctx context.Context, at time.Time, vetID uuid.UUID, typeID int64) error {
	windows, err := c.availability.ListAvailabilityByVet(ctx, vetID)
	if err != nil {
		return wrapStore("load availability", err)
	}
	if !coveredBy(windows, at) {
		return ErrOutOfAvailability
	}

	typ, err := c.types.GetTypeByID(ctx, typeID)
	if err != nil {
		return wrapStore("load appointment type", err)
	}

	existing, err := c.appointments.ListActiveByVet(ctx, vetID)
	if err != nil {
		return wrapStore("load active appointments", err)
	}

	if firstConflict(OccupiedInterval(at, typ.Duration), existing) != nil {
		return ErrSlotOverlap
	}
	return nil
}

func coveredBy(windows []AvailabilityWindow, at time.Time) bool {
	for _, w := range windows {
		if w.Contains(at) {
			return true
		}
	}
	return false
}

// firstConflict returns the first active appointment whose occupied interval overlaps candidate.
func firstConflict(candidate Interval, existing []Appointment) *Appointment {
	for i := range existing {
		if !existing[i].State.Active() {
			continue
		}
		if existing[i].Occupied().Overlaps(candidate) {
			return &existing[i]
		}
	}
	return nil
}
