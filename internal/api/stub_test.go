package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

var testSecret = []byte("test-secret")

// stubScheduler records calls and returns canned results. Unset funcs return zero values.
type stubScheduler struct {
	bookFn         func(req appointment.BookRequest) (*appointment.Appointment, error)
	emergencyFn    func(clientID, petID uuid.UUID) (*appointment.Appointment, error)
	transitionFn   func(id uuid.UUID, target appointment.State, actor appointment.Actor) (*appointment.Appointment, error)
	cancelFn       func(id uuid.UUID, reason string, actor appointment.Actor) (*appointment.Appointment, error)
	getFn          func(id uuid.UUID) (*appointment.Appointment, error)
	listByVetFn    func(vetID uuid.UUID) ([]appointment.AppointmentDetail, error)
	occupiedFn     func(vetID uuid.UUID) ([]appointment.Interval, error)
	typesFn        func() ([]appointment.AppointmentType, error)
	deleteWindowFn func(actor appointment.Actor, id uuid.UUID) (*appointment.AvailabilityWindow, error)
	onCallFn       func(actor appointment.Actor, vetID uuid.UUID, onCall bool) (*appointment.User, error)
	cancelCalls    int
}

var _ Scheduler = (*stubScheduler)(nil)

func (s *stubScheduler) Book(_ context.Context, req appointment.BookRequest) (*appointment.Appointment, error) {
	if s.bookFn != nil {
		return s.bookFn(req)
	}
	return &appointment.Appointment{ID: uuid.New(), State: appointment.StatePending}, nil
}

func (s *stubScheduler) BookEmergency(_ context.Context, clientID, petID uuid.UUID) (*appointment.Appointment, error) {
	if s.emergencyFn != nil {
		return s.emergencyFn(clientID, petID)
	}
	return &appointment.Appointment{ID: uuid.New(), State: appointment.StateEmergency}, nil
}

func (s *stubScheduler) Transition(_ context.Context, id uuid.UUID, target appointment.State, actor appointment.Actor) (*appointment.Appointment, error) {
	if s.transitionFn != nil {
		return s.transitionFn(id, target, actor)
	}
	return &appointment.Appointment{ID: id, State: target}, nil
}

func (s *stubScheduler) Cancel(_ context.Context, id uuid.UUID, reason string, actor appointment.Actor) (*appointment.Appointment, error) {
	s.cancelCalls++
	if s.cancelFn != nil {
		return s.cancelFn(id, reason, actor)
	}
	return &appointment.Appointment{ID: id, State: appointment.StateCancelled, CancellationReason: &reason}, nil
}

func (s *stubScheduler) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if s.getFn != nil {
		return s.getFn(id)
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (s *stubScheduler) ListAppointmentTypes(context.Context) ([]appointment.AppointmentType, error) {
	if s.typesFn != nil {
		return s.typesFn()
	}
	return nil, nil
}

func (s *stubScheduler) ListAvailableVets(context.Context) ([]appointment.User, error) {
	return nil, nil
}

func (s *stubScheduler) ListAvailability(context.Context, uuid.UUID) ([]appointment.AvailabilityWindow, error) {
	return nil, nil
}

func (s *stubScheduler) OccupiedSlots(_ context.Context, vetID uuid.UUID) ([]appointment.Interval, error) {
	if s.occupiedFn != nil {
		return s.occupiedFn(vetID)
	}
	return nil, nil
}

func (s *stubScheduler) ListAppointmentsByClient(context.Context, uuid.UUID) ([]appointment.AppointmentDetail, error) {
	return nil, nil
}

func (s *stubScheduler) ListAppointmentsByVet(_ context.Context, vetID uuid.UUID) ([]appointment.AppointmentDetail, error) {
	if s.listByVetFn != nil {
		return s.listByVetFn(vetID)
	}
	return nil, nil
}

func (s *stubScheduler) ListEmergenciesByVet(context.Context, uuid.UUID) ([]appointment.AppointmentDetail, error) {
	return nil, nil
}

func (s *stubScheduler) CurrentEmergency(context.Context, uuid.UUID) (*appointment.AppointmentDetail, error) {
	return nil, appointment.ErrAppointmentNotFound
}

func (s *stubScheduler) CreateAvailability(_ context.Context, actor appointment.Actor, start, end time.Time) (*appointment.AvailabilityWindow, error) {
	return &appointment.AvailabilityWindow{ID: uuid.New(), VetID: actor.ID, Start: start, End: end}, nil
}

func (s *stubScheduler) DeleteAvailability(_ context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.AvailabilityWindow, error) {
	if s.deleteWindowFn != nil {
		return s.deleteWindowFn(actor, id)
	}
	return &appointment.AvailabilityWindow{ID: id, VetID: actor.ID}, nil
}

func (s *stubScheduler) SetOnCall(_ context.Context, actor appointment.Actor, vetID uuid.UUID, onCall bool) (*appointment.User, error) {
	if s.onCallFn != nil {
		return s.onCallFn(actor, vetID, onCall)
	}
	role := appointment.RoleVeterinarian
	if onCall {
		role = appointment.RoleOnCallVeterinarian
	}
	return &appointment.User{ID: vetID, Name: "Dr. Stub", Role: role}, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	pingOK   = pingerFunc(func(context.Context) error { return nil })
	pingDown = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
)

func newTestRouter(svc Scheduler) http.Handler {
	return NewRouter(RouterConfig{
		Scheduler: svc,
		Health:    NewHealthHandler(pingOK, nil, "test", "v0"),
		Logger:    zap.NewNop(),
		JWTSecret: testSecret,
	})
}

func newActor(role appointment.Role) appointment.Actor {
	return appointment.Actor{ID: uuid.New(), Name: "Test " + string(role), Role: role}
}

func tokenFor(t *testing.T, actor appointment.Actor) string {
	t.Helper()
	tok, err := IssueToken(testSecret, actor, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, actor *appointment.Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
