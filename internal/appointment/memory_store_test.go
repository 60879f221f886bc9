package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is an in-memory Repository. Unlike Postgres it enforces no
// constraints, so tests exercise the core's own checks and locking. Set
// insertErr to stand in for a constraint violation reported by the database.
type memoryStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]User
	pets         map[uuid.UUID]Pet
	types        map[int64]AppointmentType
	windows      map[uuid.UUID]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	movements    []MovementEvent

	movementErr error
	insertErr   error
	// beforeUpdate runs inside UpdateAppointmentState before the compare-and-set.
	beforeUpdate func(a *Appointment)
	// insertDelay widens the check-then-insert window in race tests.
	insertDelay time.Duration
}

var _ Repository = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:        make(map[uuid.UUID]User),
		pets:         make(map[uuid.UUID]Pet),
		types:        make(map[int64]AppointmentType),
		windows:      make(map[uuid.UUID]AvailabilityWindow),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// -- fixtures --

func (m *memoryStore) addUser(name string, role Role) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := User{ID: uuid.New(), Name: name, Role: role}
	m.users[u.ID] = u
	return u
}

func (m *memoryStore) addPet(owner uuid.UUID, name string) Pet {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Pet{ID: uuid.New(), OwnerID: owner, Name: name}
	m.pets[p.ID] = p
	return p
}

func (m *memoryStore) addType(t AppointmentType) AppointmentType {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[t.ID] = t
	return t
}

func (m *memoryStore) addWindow(vetID uuid.UUID, start, end time.Time) AvailabilityWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := AvailabilityWindow{ID: uuid.New(), VetID: vetID, Start: start, End: end, CreatedAt: time.Now()}
	m.windows[w.ID] = w
	return w
}

// addAppointment stores a record directly, bypassing the core.
func (m *memoryStore) addAppointment(vetID uuid.UUID, at time.Time, typ AppointmentType, state State) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ := OccupiedInterval(at, typ.Duration)
	a := Appointment{
		ID:            uuid.New(),
		ScheduledAt:   occ.Start,
		OccupiedUntil: occ.End,
		Description:   "fixture",
		ClientID:      uuid.New(),
		PetID:         uuid.New(),
		TypeID:        typ.ID,
		VetID:         vetID,
		State:         state,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.appointments[a.ID] = a
	return a
}

func (m *memoryStore) movementActions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.movements))
	for i, ev := range m.movements {
		out[i] = ev.Action
	}
	return out
}

// -- AvailabilityStore --

func (m *memoryStore) ListAvailabilityByVet(_ context.Context, vetID uuid.UUID) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AvailabilityWindow
	for _, w := range m.windows {
		if w.VetID == vetID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memoryStore) GetAvailabilityByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return &w, nil
}

func (m *memoryStore) CreateAvailability(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.CreatedAt = time.Now()
	m.windows[w.ID] = w
	return &w, nil
}

func (m *memoryStore) DeleteAvailability(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	delete(m.windows, id)
	return &w, nil
}

// -- AppointmentStore --

func (m *memoryStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memoryStore) ListActiveByVet(_ context.Context, vetID uuid.UUID) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.VetID == vetID && a.State.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memoryStore) CountByVetAndStates(_ context.Context, vetID uuid.UUID, states []State) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.appointments {
		if a.VetID != vetID {
			continue
		}
		for _, s := range states {
			if a.State == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memoryStore) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	if m.insertDelay > 0 {
		time.Sleep(m.insertDelay)
	}
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *memoryStore) UpdateAppointmentState(_ context.Context, id uuid.UUID, from, to State, updatedBy string, reason *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(&a)
		m.appointments[id] = a
	}
	if a.State != from {
		return nil, ErrAppointmentNotFound
	}
	a.State = to
	a.UpdatedBy = &updatedBy
	if reason != nil {
		r := *reason
		a.CancellationReason = &r
	}
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *memoryStore) detail(a Appointment) AppointmentDetail {
	t := m.types[a.TypeID]
	return AppointmentDetail{
		Appointment: a,
		TypeName:    t.Name,
		PriceCents:  t.PriceCents,
		VetName:     m.users[a.VetID].Name,
		ClientName:  m.users[a.ClientID].Name,
		PetName:     m.pets[a.PetID].Name,
	}
}

func (m *memoryStore) ListByClient(_ context.Context, clientID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AppointmentDetail
	for _, a := range m.appointments {
		if a.ClientID == clientID {
			out = append(out, m.detail(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, nil
}

func (m *memoryStore) ListByVet(_ context.Context, vetID uuid.UUID, emergency bool) ([]AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AppointmentDetail
	for _, a := range m.appointments {
		if a.VetID == vetID && m.types[a.TypeID].Emergency == emergency {
			out = append(out, m.detail(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memoryStore) LatestEmergencyForClient(_ context.Context, clientID uuid.UUID) (*AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *AppointmentDetail
	for _, a := range m.appointments {
		if a.ClientID != clientID || a.State != StateEmergency {
			continue
		}
		if latest == nil || a.ScheduledAt.After(latest.ScheduledAt) {
			d := m.detail(a)
			latest = &d
		}
	}
	if latest == nil {
		return nil, ErrAppointmentNotFound
	}
	return latest, nil
}

// -- TypeCatalog --

func (m *memoryStore) GetTypeByID(_ context.Context, id int64) (*AppointmentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[id]
	if !ok {
		return nil, ErrTypeNotFound
	}
	return &t, nil
}

func (m *memoryStore) GetEmergencyType(_ context.Context) (*AppointmentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.types {
		if t.Emergency {
			return &t, nil
		}
	}
	return nil, ErrTypeNotFound
}

func (m *memoryStore) ListTypes(_ context.Context) ([]AppointmentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AppointmentType, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -- Directory --

func (m *memoryStore) FindUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *memoryStore) ListUsersByRole(_ context.Context, role Role) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	// map iteration order is random; callers must not depend on it
	return out, nil
}

func (m *memoryStore) UpdateUserRole(_ context.Context, id uuid.UUID, role Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Role = role
	m.users[id] = u
	return &u, nil
}

func (m *memoryStore) FindPet(_ context.Context, id uuid.UUID) (*Pet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pets[id]
	if !ok {
		return nil, ErrPetNotFound
	}
	return &p, nil
}

// -- AuditLog --

func (m *memoryStore) RecordMovement(_ context.Context, ev MovementEvent) error {
	if m.movementErr != nil {
		return m.movementErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, ev)
	return nil
}

// failingStore wraps memoryStore and fails reads of active appointments.
type failingStore struct {
	*memoryStore
}

var errDatabaseDown = errors.New("connection refused")

func (f failingStore) ListActiveByVet(context.Context, uuid.UUID) ([]Appointment, error) {
	return nil, errDatabaseDown
}
