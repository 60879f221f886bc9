package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

func listAppointmentTypesHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types, err := svc.ListAppointmentTypes(r.Context())
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := make([]AppointmentTypeResponse, 0, len(types))
		for _, t := range types {
			resp = append(resp, AppointmentTypeResponse{
				ID:              t.ID,
				Name:            t.Name,
				DurationMinutes: int(t.Duration.Minutes()),
				PriceCents:      t.PriceCents,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}
		vetID, err := uuid.Parse(req.VetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_vet_id", "vet_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			At:          req.Time,
			Description: req.Description,
			ClientID:    actor.ID,
			PetID:       petID,
			TypeID:      req.TypeID,
			VetID:       vetID,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func createEmergencyHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		var req CreateEmergencyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}

		appt, err := svc.BookEmergency(r.Context(), actor.ID, petID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func currentEmergencyHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		detail, err := svc.CurrentEmergency(r.Context(), actor.ID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func listClientAppointmentsHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		details, err := svc.ListAppointmentsByClient(r.Context(), actor.ID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func listVetAppointmentsHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vetID, ok := targetVetID(w, r)
		if !ok {
			return
		}

		details, err := svc.ListAppointmentsByVet(r.Context(), vetID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func listVetEmergenciesHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vetID, ok := targetVetID(w, r)
		if !ok {
			return
		}

		details, err := svc.ListEmergenciesByVet(r.Context(), vetID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func updateStateHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateStateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		target, err := appointment.ParseState(req.State)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		appt, err := svc.Transition(r.Context(), id, target, actor)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req CancelRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if actor.Role == appointment.RoleClient {
			existing, err := svc.GetAppointment(r.Context(), id)
			if err != nil {
				handleServiceError(w, r, logger, err)
				return
			}
			// clients only see their own appointments
			if existing.ClientID != actor.ID {
				handleServiceError(w, r, logger, appointment.ErrAppointmentNotFound)
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason, actor)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listVeterinariansHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vets, err := svc.ListAvailableVets(r.Context())
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := make([]VeterinarianResponse, 0, len(vets))
		for _, v := range vets {
			resp = append(resp, VeterinarianResponse{ID: v.ID, Name: v.Name})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// setOnCallHandler adds the vet in the path to the on-call pool, or removes it.
func setOnCallHandler(svc Scheduler, logger *zap.Logger, onCall bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		vetID, ok := pathUUID(w, r, "id", "invalid_vet_id")
		if !ok {
			return
		}

		vet, err := svc.SetOnCall(r.Context(), actor, vetID, onCall)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, VeterinarianResponse{ID: vet.ID, Name: vet.Name, Role: string(vet.Role)})
	}
}

func vetAvailabilityHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vetID, ok := pathUUID(w, r, "id", "invalid_vet_id")
		if !ok {
			return
		}

		windows, err := svc.ListAvailability(r.Context(), vetID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponses(windows))
	}
}

func vetOccupiedHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vetID, ok := pathUUID(w, r, "id", "invalid_vet_id")
		if !ok {
			return
		}

		slots, err := svc.OccupiedSlots(r.Context(), vetID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, slots)
	}
}

func createAvailabilityHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		var req CreateAvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		window, err := svc.CreateAvailability(r.Context(), actor, req.Start, req.End)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAvailabilityResponse(window))
	}
}

func listOwnAvailabilityHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		windows, err := svc.ListAvailability(r.Context(), actor.ID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponses(windows))
	}
}

func deleteAvailabilityHandler(svc Scheduler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		id, ok := pathUUID(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		window, err := svc.DeleteAvailability(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(window))
	}
}

// targetVetID is the caller's own ID, or for admins the vet_id query parameter.
func targetVetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor, _ := ActorFromContext(r.Context())
	if actor.Role != appointment.RoleAdmin {
		return actor.ID, true
	}

	id, err := uuid.Parse(r.URL.Query().Get("vet_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_vet_id", "admins must pass vet_id as a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrTypeNotFound):
		writeError(w, http.StatusNotFound, "type_not_found", err.Error())
	case errors.Is(err, appointment.ErrVetNotFound):
		writeError(w, http.StatusNotFound, "vet_not_found", err.Error())
	case errors.Is(err, appointment.ErrClientNotFound):
		writeError(w, http.StatusNotFound, "client_not_found", err.Error())
	case errors.Is(err, appointment.ErrPetNotFound):
		writeError(w, http.StatusNotFound, "pet_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrAvailabilityNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, appointment.ErrOutOfAvailability):
		writeError(w, http.StatusUnprocessableEntity, "out_of_availability", err.Error())
	case errors.Is(err, appointment.ErrSlotOverlap):
		writeError(w, http.StatusConflict, "slot_overlap", err.Error())
	case errors.Is(err, appointment.ErrNoVetAvailable):
		writeError(w, http.StatusConflict, "no_vet_available", err.Error())
	case errors.Is(err, appointment.ErrEmergencyAlreadyActive):
		writeError(w, http.StatusConflict, "emergency_already_active", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.Is(err, appointment.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, appointment.ErrVetBusy):
		writeError(w, http.StatusConflict, "vet_busy", err.Error())
	default:
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
