package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	Time        time.Time `json:"time"`
	Description string    `json:"description"`
	PetID       string    `json:"pet_id"`
	TypeID      int64     `json:"type_id"`
	VetID       string    `json:"vet_id"`
}

type CreateEmergencyRequest struct {
	PetID string `json:"pet_id"`
}

type UpdateStateRequest struct {
	State string `json:"state"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CreateAvailabilityRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	ScheduledAt        time.Time `json:"scheduled_at"`
	OccupiedUntil      time.Time `json:"occupied_until"`
	Description        string    `json:"description"`
	State              string    `json:"state"`
	ClientID           uuid.UUID `json:"client_id"`
	PetID              uuid.UUID `json:"pet_id"`
	TypeID             int64     `json:"type_id"`
	VetID              uuid.UUID `json:"vet_id"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	UpdatedBy          *string   `json:"updated_by,omitempty"`
}

// AppointmentDetailResponse is an appointment hydrated with display names for listings.
type AppointmentDetailResponse struct {
	AppointmentResponse
	TypeName   string `json:"type_name"`
	PriceCents int64  `json:"price_cents"`
	VetName    string `json:"vet_name"`
	ClientName string `json:"client_name"`
	PetName    string `json:"pet_name"`
}

type AppointmentTypeResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

type VeterinarianResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role,omitempty"`
}

type AvailabilityResponse struct {
	ID    uuid.UUID `json:"id"`
	VetID uuid.UUID `json:"vet_id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ScheduledAt:        a.ScheduledAt,
		OccupiedUntil:      a.OccupiedUntil,
		Description:        a.Description,
		State:              string(a.State),
		ClientID:           a.ClientID,
		PetID:              a.PetID,
		TypeID:             a.TypeID,
		VetID:              a.VetID,
		CancellationReason: a.CancellationReason,
		UpdatedBy:          a.UpdatedBy,
	}
}

func toDetailResponses(details []appointment.AppointmentDetail) []AppointmentDetailResponse {
	out := make([]AppointmentDetailResponse, 0, len(details))
	for i := range details {
		out = append(out, toDetailResponse(&details[i]))
	}
	return out
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		TypeName:            d.TypeName,
		PriceCents:          d.PriceCents,
		VetName:             d.VetName,
		ClientName:          d.ClientName,
		PetName:             d.PetName,
	}
}

func toAvailabilityResponses(windows []appointment.AvailabilityWindow) []AvailabilityResponse {
	out := make([]AvailabilityResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, toAvailabilityResponse(&w))
	}
	return out
}

func toAvailabilityResponse(w *appointment.AvailabilityWindow) AvailabilityResponse {
	return AvailabilityResponse{ID: w.ID, VetID: w.VetID, Start: w.Start, End: w.End}
}
