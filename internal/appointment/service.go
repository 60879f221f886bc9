package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventEmergencyBooked      = "EMERGENCY_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAvailabilityCreated  = "AVAILABILITY_CREATED"
	EventAvailabilityDeleted  = "AVAILABILITY_DELETED"
	EventOnCallGranted        = "ON_CALL_ROLE_GRANTED"
	EventOnCallRevoked        = "ON_CALL_ROLE_REVOKED"
)

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	checker *OverlapChecker
	router  *EmergencyRouter
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for emergency bookings and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		locker:  locker,
		checker: NewOverlapChecker(repo, repo, repo),
		router:  NewEmergencyRouter(repo, repo, repo),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type BookRequest struct {
	At          time.Time
	Description string
	ClientID    uuid.UUID
	PetID       uuid.UUID
	TypeID      int64
	VetID       uuid.UUID
}

func (r BookRequest) validate() error {
	var missing []string
	if r.At.IsZero() {
		missing = append(missing, "time")
	}
	if strings.TrimSpace(r.Description) == "" {
		missing = append(missing, "description")
	}
	if r.ClientID == uuid.Nil {
		missing = append(missing, "client_id")
	}
	if r.PetID == uuid.Nil {
		missing = append(missing, "pet_id")
	}
	if r.TypeID <= 0 {
		missing = append(missing, "type_id")
	}
	if r.VetID == uuid.Nil {
		missing = append(missing, "vet_id")
	}
	if len(missing) > 0 {
		return validationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Book creates a pending appointment. The availability and overlap checks and the
// insert run under the veterinarian's lock so two concurrent bookings for
// overlapping times cannot both succeed.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	typ, err := s.repo.GetTypeByID(ctx, req.TypeID)
	if err != nil {
		return nil, wrapStore("load appointment type", err)
	}
	if typ.Emergency {
		return nil, validationError("the emergency service cannot be booked directly")
	}

	vet, err := s.loadUser(ctx, req.VetID, ErrVetNotFound)
	if err != nil {
		return nil, err
	}
	if !vet.Role.IsVet() {
		return nil, ErrVetNotFound
	}
	client, err := s.loadUser(ctx, req.ClientID, ErrClientNotFound)
	if err != nil {
		return nil, err
	}
	if err := s.checkPet(ctx, req.PetID, req.ClientID); err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.locker.WithVetLock(ctx, req.VetID, func(lockCtx context.Context) error {
		if err := s.checker.Check(lockCtx, req.At, req.VetID, req.TypeID); err != nil {
			return err
		}

		occupied := OccupiedInterval(req.At, typ.Duration)
		appt, err := s.repo.InsertAppointment(lockCtx, Appointment{
			ID:            uuid.New(),
			ScheduledAt:   occupied.Start,
			OccupiedUntil: occupied.End,
			Description:   strings.TrimSpace(req.Description),
			ClientID:      req.ClientID,
			PetID:         req.PetID,
			TypeID:        req.TypeID,
			VetID:         req.VetID,
			State:         StatePending,
		})
		if err != nil {
			return wrapStore("insert appointment", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("vet_id", req.VetID.String()),
		zap.String("client_id", req.ClientID.String()),
		zap.Time("scheduled_at", created.ScheduledAt),
	)
	s.logEvent(ctx, client.ID, &created.ID, EventAppointmentBooked, map[string]any{
		"type":         typ.Name,
		"scheduled_at": created.ScheduledAt,
		"vet_id":       vet.ID.String(),
		"vet_name":     vet.Name,
	})

	return created, nil
}

// BookEmergency assigns the least loaded available on-call veterinarian and books
// an emergency appointment starting now.
func (s *Service) BookEmergency(ctx context.Context, clientID, petID uuid.UUID) (*Appointment, error) {
	if clientID == uuid.Nil || petID == uuid.Nil {
		return nil, validationError("client_id and pet_id are required")
	}
	client, err := s.loadUser(ctx, clientID, ErrClientNotFound)
	if err != nil {
		return nil, err
	}
	if err := s.checkPet(ctx, petID, clientID); err != nil {
		return nil, err
	}

	typ, err := s.repo.GetEmergencyType(ctx)
	if err != nil {
		return nil, wrapStore("load emergency type", err)
	}

	now := s.now()
	slot := OccupiedInterval(now, typ.Duration)
	var created *Appointment

	err = s.locker.WithOnCallPoolLock(ctx, func(poolCtx context.Context) error {
		vets, err := s.router.Candidates(poolCtx, now, typ.Duration)
		if err != nil {
			return err
		}

		busy := false
		for _, vetID := range vets {
			err := s.locker.WithVetLock(poolCtx, vetID, func(lockCtx context.Context) error {
				if err := s.router.Verify(lockCtx, vetID, slot); err != nil {
					return err
				}

				appt, err := s.repo.InsertAppointment(lockCtx, Appointment{
					ID:            uuid.New(),
					ScheduledAt:   slot.Start,
					OccupiedUntil: slot.End,
					Description:   EmergencyDescription,
					ClientID:      clientID,
					PetID:         petID,
					TypeID:        typ.ID,
					VetID:         vetID,
					State:         StateEmergency,
				})
				if err != nil {
					return wrapStore("insert emergency appointment", err)
				}
				created = appt
				return nil
			})
			switch {
			case err == nil:
				return nil
			case errors.Is(err, redisclient.ErrLockNotAcquired):
				// a regular booking holds this vet; try the next one
				busy = true
			case errors.Is(err, ErrSlotOverlap):
				s.logger.Debug("on-call vet booked since selection",
					zap.String("vet_id", vetID.String()),
				)
			default:
				return err
			}
		}

		if busy {
			return ErrVetBusy
		}
		return ErrNoVetAvailable
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.logger.Info("emergency appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("vet_id", created.VetID.String()),
		zap.String("client_id", clientID.String()),
	)
	s.logEvent(ctx, client.ID, &created.ID, EventEmergencyBooked, map[string]any{
		"type":         typ.Name,
		"scheduled_at": created.ScheduledAt,
		"vet_id":       created.VetID.String(),
	})

	return created, nil
}

// Transition moves an appointment to confirmed or completed. Cancellation goes through Cancel.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target State, actor Actor) (*Appointment, error) {
	if target != StateConfirmed && target != StateCompleted {
		return nil, validationError("state must be %q or %q", StateConfirmed, StateCompleted)
	}
	if strings.TrimSpace(actor.Name) == "" {
		return nil, validationError("actor name is required")
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrapStore("load appointment", err)
	}
	if !CanTransition(appt.State, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.State, target)
	}

	updated, err := s.repo.UpdateAppointmentState(ctx, id, appt.State, target, actor.Name, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// the row exists, so the state moved underneath us
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		return nil, wrapStore("update appointment state", err)
	}

	event := EventAppointmentConfirmed
	if target == StateCompleted {
		event = EventAppointmentCompleted
	}
	s.logger.Info("appointment state changed",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(appt.State)),
		zap.String("to", string(target)),
		zap.String("updated_by", actor.Name),
	)
	s.logEvent(ctx, actor.ID, &updated.ID, event, map[string]any{
		"from":         appt.State,
		"to":           target,
		"scheduled_at": updated.ScheduledAt,
		"client_id":    updated.ClientID.String(),
	})

	return updated, nil
}

// Cancel moves any non-terminal appointment to cancelled, recording reason and actor.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("cancellation reason is required")
	}
	if strings.TrimSpace(actor.Name) == "" {
		return nil, validationError("actor name is required")
	}

	var (
		updated *Appointment
		from    State
	)
	// a concurrent transition can move the state between read and update; retry once
	for attempt := 0; attempt < 2 && updated == nil; attempt++ {
		appt, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, wrapStore("load appointment", err)
		}
		if appt.State.Terminal() {
			return nil, ErrAlreadyTerminal
		}
		from = appt.State

		updated, err = s.repo.UpdateAppointmentState(ctx, id, from, StateCancelled, actor.Name, &reason)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return nil, wrapStore("cancel appointment", err)
		}
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
	}

	s.logger.Info("appointment cancelled",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(from)),
		zap.String("updated_by", actor.Name),
	)
	s.logEvent(ctx, actor.ID, &updated.ID, EventAppointmentCancelled, map[string]any{
		"from":         from,
		"reason":       reason,
		"scheduled_at": updated.ScheduledAt,
	})

	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrapStore("load appointment", err)
	}
	return appt, nil
}

// lockError classifies errors coming out of a locked section.
func lockError(err error) error {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrVetBusy
	case errors.Is(err, redisclient.ErrLockUnavailable):
		return storageError("acquire scheduling lock", err)
	}
	return err
}

func (s *Service) loadUser(ctx context.Context, id uuid.UUID, notFound error) (*User, error) {
	u, err := s.repo.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound
		}
		return nil, storageError("load user", err)
	}
	return u, nil
}

func (s *Service) checkPet(ctx context.Context, petID, clientID uuid.UUID) error {
	pet, err := s.repo.FindPet(ctx, petID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrPetNotFound
		}
		return storageError("load pet", err)
	}
	if pet.OwnerID != clientID {
		return validationError("pet does not belong to the client")
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, actorID uuid.UUID, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal movement payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := MovementEvent{
		ActorID:       actorID,
		Action:        eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.RecordMovement(ctx, ev); err != nil {
		s.logger.Warn("failed to record movement",
			zap.String("event", eventType),
			zap.String("actor_id", actorID.String()),
			zap.Error(err),
		)
	}
}

// -- Queries --

// ListAppointmentTypes returns the client-facing catalog, without the emergency service.
func (s *Service) ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error) {
	all, err := s.repo.ListTypes(ctx)
	if err != nil {
		return nil, wrapStore("list appointment types", err)
	}
	out := make([]AppointmentType, 0, len(all))
	for _, t := range all {
		if !t.Emergency {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListAvailableVets lists the veterinarians clients can book directly.
func (s *Service) ListAvailableVets(ctx context.Context) ([]User, error) {
	vets, err := s.repo.ListUsersByRole(ctx, RoleVeterinarian)
	if err != nil {
		return nil, wrapStore("list veterinarians", err)
	}
	return vets, nil
}

func (s *Service) ListAvailability(ctx context.Context, vetID uuid.UUID) ([]AvailabilityWindow, error) {
	windows, err := s.repo.ListAvailabilityByVet(ctx, vetID)
	if err != nil {
		return nil, wrapStore("list availability", err)
	}
	return windows, nil
}

// OccupiedSlots returns the occupied intervals of a veterinarian's regular bookings,
// ordered by start, for calendar rendering.
func (s *Service) OccupiedSlots(ctx context.Context, vetID uuid.UUID) ([]Interval, error) {
	active, err := s.repo.ListActiveByVet(ctx, vetID)
	if err != nil {
		return nil, wrapStore("list active appointments", err)
	}
	slots := make([]Interval, 0, len(active))
	for _, a := range active {
		if a.State == StateEmergency {
			continue
		}
		slots = append(slots, a.Occupied())
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

// ListAppointmentsByClient retrieves every appointment of a client, newest first.
func (s *Service) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID) ([]AppointmentDetail, error) {
	out, err := s.repo.ListByClient(ctx, clientID)
	if err != nil {
		return nil, wrapStore("list appointments by client", err)
	}
	return out, nil
}

// ListAppointmentsByVet retrieves a veterinarian's regular (non-emergency) appointments.
func (s *Service) ListAppointmentsByVet(ctx context.Context, vetID uuid.UUID) ([]AppointmentDetail, error) {
	out, err := s.repo.ListByVet(ctx, vetID, false)
	if err != nil {
		return nil, wrapStore("list appointments by vet", err)
	}
	return out, nil
}

// ListEmergenciesByVet retrieves the emergency appointments assigned to an on-call veterinarian.
func (s *Service) ListEmergenciesByVet(ctx context.Context, vetID uuid.UUID) ([]AppointmentDetail, error) {
	out, err := s.repo.ListByVet(ctx, vetID, true)
	if err != nil {
		return nil, wrapStore("list emergencies by vet", err)
	}
	return out, nil
}

// CurrentEmergency returns the client's latest appointment still in the emergency state.
func (s *Service) CurrentEmergency(ctx context.Context, clientID uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.LatestEmergencyForClient(ctx, clientID)
	if err != nil {
		return nil, wrapStore("load current emergency", err)
	}
	return detail, nil
}

// -- Availability management --

func (s *Service) CreateAvailability(ctx context.Context, actor Actor, start, end time.Time) (*AvailabilityWindow, error) {
	if !actor.Role.IsVet() {
		return nil, validationError("only veterinarians manage availability")
	}
	if start.IsZero() || end.IsZero() {
		return nil, validationError("start and end are required")
	}
	if !end.After(start) {
		return nil, validationError("end must be after start")
	}

	w, err := s.repo.CreateAvailability(ctx, AvailabilityWindow{
		ID:    uuid.New(),
		VetID: actor.ID,
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, wrapStore("create availability", err)
	}

	s.logEvent(ctx, actor.ID, nil, EventAvailabilityCreated, map[string]any{
		"window_id": w.ID.String(),
		"start":     w.Start,
		"end":       w.End,
	})
	return w, nil
}

// DeleteAvailability removes one of the actor's own windows. Admins may remove any window.
func (s *Service) DeleteAvailability(ctx context.Context, actor Actor, id uuid.UUID) (*AvailabilityWindow, error) {
	w, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return nil, wrapStore("load availability", err)
	}
	if w.VetID != actor.ID && actor.Role != RoleAdmin {
		return nil, ErrAvailabilityNotFound
	}

	deleted, err := s.repo.DeleteAvailability(ctx, id)
	if err != nil {
		return nil, wrapStore("delete availability", err)
	}

	s.logEvent(ctx, actor.ID, nil, EventAvailabilityDeleted, map[string]any{
		"window_id": deleted.ID.String(),
		"start":     deleted.Start,
		"end":       deleted.End,
	})
	return deleted, nil
}

// -- On-call pool --

// SetOnCall moves a veterinarian into (onCall true) or out of the on-call pool the
// emergency router picks from. Only admins may do it. A vet still holding an
// emergency keeps the role until that emergency is cancelled.
func (s *Service) SetOnCall(ctx context.Context, actor Actor, vetID uuid.UUID, onCall bool) (*User, error) {
	if actor.Role != RoleAdmin {
		return nil, validationError("only admins manage the on-call pool")
	}

	target := RoleVeterinarian
	event := EventOnCallRevoked
	if onCall {
		target = RoleOnCallVeterinarian
		event = EventOnCallGranted
	}

	var updated *User
	changed := false

	// the pool lock keeps the router from picking a vet mid-change
	err := s.locker.WithOnCallPoolLock(ctx, func(poolCtx context.Context) error {
		vet, err := s.loadUser(poolCtx, vetID, ErrVetNotFound)
		if err != nil {
			return err
		}
		if !vet.Role.IsVet() {
			return ErrVetNotFound
		}
		if vet.Role == target {
			updated = vet
			return nil
		}

		if !onCall {
			n, err := s.repo.CountByVetAndStates(poolCtx, vetID, []State{StateEmergency})
			if err != nil {
				return wrapStore("count emergency appointments", err)
			}
			if n > 0 {
				return ErrEmergencyAlreadyActive
			}
		}

		updated, err = s.repo.UpdateUserRole(poolCtx, vetID, target)
		if err != nil {
			return wrapStore("update user role", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, lockError(err)
	}

	if changed {
		s.logger.Info("on-call pool changed",
			zap.String("vet_id", vetID.String()),
			zap.String("role", string(target)),
			zap.String("updated_by", actor.Name),
		)
		s.logEvent(ctx, actor.ID, nil, event, map[string]any{
			"vet_id":   vetID.String(),
			"vet_name": updated.Name,
			"role":     target,
		})
	}
	return updated, nil
}
