package appointment

import (
	"context"

	"github.com/google/uuid"
)

// AvailabilityStore holds the veterinarians' availability windows.
type AvailabilityStore interface {
	// ListAvailabilityByVet returns windows ordered by start.
	ListAvailabilityByVet(ctx context.Context, vetID uuid.UUID) ([]AvailabilityWindow, error)
	GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	CreateAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
}

// AppointmentStore owns appointment records. Implementations must reject inserts that
// break the overlap or single-emergency invariants with ErrSlotOverlap or
// ErrEmergencyAlreadyActive when they can enforce them.
type AppointmentStore interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks
	ListActiveByVet(ctx context.Context, vetID uuid.UUID) ([]Appointment, error)
	CountByVetAndStates(ctx context.Context, vetID uuid.UUID, states []State) (int, error)

	// Creation and updates
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// UpdateAppointmentState only applies while the stored state still equals from.
	UpdateAppointmentState(ctx context.Context, id uuid.UUID, from, to State, updatedBy string, reason *string) (*Appointment, error)

	// Listings
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]AppointmentDetail, error)
	ListByVet(ctx context.Context, vetID uuid.UUID, emergency bool) ([]AppointmentDetail, error)
	LatestEmergencyForClient(ctx context.Context, clientID uuid.UUID) (*AppointmentDetail, error)
}

type TypeCatalog interface {
	GetTypeByID(ctx context.Context, id int64) (*AppointmentType, error)
	GetEmergencyType(ctx context.Context) (*AppointmentType, error)
	ListTypes(ctx context.Context) ([]AppointmentType, error)
}

// Directory is the user directory the core validates references against.
type Directory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsersByRole(ctx context.Context, role Role) ([]User, error)
	// UpdateUserRole moves a user between roles; ErrUserNotFound if absent.
	UpdateUserRole(ctx context.Context, id uuid.UUID, role Role) (*User, error)
	FindPet(ctx context.Context, id uuid.UUID) (*Pet, error)
}

// AuditLog receives movement events; the core never waits on its outcome.
type AuditLog interface {
	RecordMovement(ctx context.Context, ev MovementEvent) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	AvailabilityStore
	AppointmentStore
	TypeCatalog
	Directory
	AuditLog
}
