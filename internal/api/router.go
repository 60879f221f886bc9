package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

// Scheduler is the part of appointment.Service the HTTP layer depends on.
type Scheduler interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	BookEmergency(ctx context.Context, clientID, petID uuid.UUID) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, target appointment.State, actor appointment.Actor) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, actor appointment.Actor) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)

	ListAppointmentTypes(ctx context.Context) ([]appointment.AppointmentType, error)
	ListAvailableVets(ctx context.Context) ([]appointment.User, error)
	ListAvailability(ctx context.Context, vetID uuid.UUID) ([]appointment.AvailabilityWindow, error)
	OccupiedSlots(ctx context.Context, vetID uuid.UUID) ([]appointment.Interval, error)
	ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID) ([]appointment.AppointmentDetail, error)
	ListAppointmentsByVet(ctx context.Context, vetID uuid.UUID) ([]appointment.AppointmentDetail, error)
	ListEmergenciesByVet(ctx context.Context, vetID uuid.UUID) ([]appointment.AppointmentDetail, error)
	CurrentEmergency(ctx context.Context, clientID uuid.UUID) (*appointment.AppointmentDetail, error)

	CreateAvailability(ctx context.Context, actor appointment.Actor, start, end time.Time) (*appointment.AvailabilityWindow, error)
	DeleteAvailability(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.AvailabilityWindow, error)

	SetOnCall(ctx context.Context, actor appointment.Actor, vetID uuid.UUID, onCall bool) (*appointment.User, error)
}

var _ Scheduler = (*appointment.Service)(nil)

type RouterConfig struct {
	Scheduler Scheduler
	Health    *HealthHandler
	Logger    *zap.Logger
	JWTSecret []byte
}

func NewRouter(cfg RouterConfig) http.Handler {
	svc, logger := cfg.Scheduler, cfg.Logger

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Get("/appointment-types", listAppointmentTypesHandler(svc, logger))

	var (
		vet    = appointment.RoleVeterinarian
		onCall = appointment.RoleOnCallVeterinarian
		admin  = appointment.RoleAdmin
		client = appointment.RoleClient
	)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(client))

			r.Post("/appointments", createAppointmentHandler(svc, logger))
			r.Post("/appointments/emergency", createEmergencyHandler(svc, logger))
			r.Get("/appointments/emergency", currentEmergencyHandler(svc, logger))
			r.Get("/client/appointments", listClientAppointmentsHandler(svc, logger))
			r.Get("/veterinarians", listVeterinariansHandler(svc, logger))
			r.Get("/veterinarians/{id}/availability", vetAvailabilityHandler(svc, logger))
			r.Get("/veterinarians/{id}/occupied", vetOccupiedHandler(svc, logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(vet, onCall, admin))

			r.Get("/vet/appointments", listVetAppointmentsHandler(svc, logger))
			r.Get("/vet/emergencies", listVetEmergenciesHandler(svc, logger))
			r.Post("/appointments/{id}/state", updateStateHandler(svc, logger))
		})

		r.With(RequireRoles(vet, onCall, admin, client)).
			Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc, logger))

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(vet, onCall))

			r.Post("/availability", createAvailabilityHandler(svc, logger))
			r.Get("/availability", listOwnAvailabilityHandler(svc, logger))
			r.Delete("/availability/{id}", deleteAvailabilityHandler(svc, logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(admin))

			r.Put("/veterinarians/{id}/on-call", setOnCallHandler(svc, logger, true))
			r.Delete("/veterinarians/{id}/on-call", setOnCallHandler(svc, logger, false))
		})
	})

	return r
}
