package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TurnoverBuffer is added after every appointment, whatever its type.
const TurnoverBuffer = 10 * time.Minute

// EmergencyDescription is stored on every emergency booking.
const EmergencyDescription = "Emergency appointment"

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateEmergency State = "emergency"
)

// ParseState rejects anything outside the closed set of states.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StatePending, StateConfirmed, StateCompleted, StateCancelled, StateEmergency:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown appointment state %q", ErrValidation, s)
}

// Active reports whether an appointment in this state occupies the veterinarian's time.
func (s State) Active() bool {
	switch s {
	case StatePending, StateConfirmed, StateCompleted, StateEmergency:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// ActiveStates are the states that count against the overlap invariant.
var ActiveStates = []State{StatePending, StateConfirmed, StateCompleted, StateEmergency}

// LoadStates are the states the emergency router counts as current workload.
var LoadStates = []State{StateEmergency, StateConfirmed, StatePending}

var transitions = map[State][]State{
	StatePending:   {StateConfirmed, StateCancelled},
	StateConfirmed: {StateCompleted, StateCancelled},
	StateEmergency: {StateCancelled},
	StateCompleted: nil,
	StateCancelled: nil,
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleAdmin              Role = "admin"
	RoleVeterinarian       Role = "veterinarian"
	RoleClient             Role = "client"
	RoleOnCallVeterinarian Role = "on_call_veterinarian"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleVeterinarian, RoleClient, RoleOnCallVeterinarian:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// IsVet is true for both regular and on-call veterinarians.
func (r Role) IsVet() bool {
	return r == RoleVeterinarian || r == RoleOnCallVeterinarian
}

// Interval is the half-open span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps is false for intervals that only touch at an endpoint.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// OccupiedInterval is the span a booking at start blocks on the veterinarian's calendar.
func OccupiedInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d + TurnoverBuffer)}
}

type User struct {
	ID   uuid.UUID
	Name string
	Role Role
}

type Pet struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Name    string
}

// Actor is whoever triggers a mutation; Name is stored as "updated by".
type Actor struct {
	ID   uuid.UUID
	Name string
	Role Role
}

type AppointmentType struct {
	ID         int64
	Name       string
	Duration   time.Duration // zero for variable-length services
	PriceCents int64
	Emergency  bool
}

type AvailabilityWindow struct {
	ID        uuid.UUID
	VetID     uuid.UUID
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
}

// Contains uses inclusive bounds on both ends.
func (w AvailabilityWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

type Appointment struct {
	ID                 uuid.UUID
	ScheduledAt        time.Time
	OccupiedUntil      time.Time
	Description        string
	ClientID           uuid.UUID
	PetID              uuid.UUID
	TypeID             int64
	VetID              uuid.UUID
	State              State
	CancellationReason *string
	UpdatedBy          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a Appointment) Occupied() Interval {
	return Interval{Start: a.ScheduledAt, End: a.OccupiedUntil}
}

type AppointmentDetail struct {
	Appointment
	TypeName   string
	PriceCents int64
	VetName    string
	ClientName string
	PetName    string
}

// MovementEvent is handed to the audit log after every successful mutation.
type MovementEvent struct {
	ActorID       uuid.UUID
	Action        string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
