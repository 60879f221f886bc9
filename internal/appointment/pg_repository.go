package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"

	constraintNoOverlap       = "appointments_no_overlap"
	constraintSingleEmergency = "appointments_single_emergency"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// Helpers

const appointmentColumns = `id, scheduled_at, occupied_until, description, state, client_id, pet_id,
	type_id, vet_id, cancellation_reason, updated_by, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ScheduledAt,
		&a.OccupiedUntil,
		&a.Description,
		&a.State,
		&a.ClientID,
		&a.PetID,
		&a.TypeID,
		&a.VetID,
		&a.CancellationReason,
		&a.UpdatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const detailSelect = `
	SELECT c.id, c.scheduled_at, c.occupied_until, c.description, c.state, c.client_id, c.pet_id,
	       c.type_id, c.vet_id, c.cancellation_reason, c.updated_by, c.created_at, c.updated_at,
	       t.name, t.price_cents, v.name, cl.name, p.name
	FROM appointments c
	JOIN appointment_types t ON t.id = c.type_id
	JOIN users v ON v.id = c.vet_id
	JOIN users cl ON cl.id = c.client_id
	JOIN pets p ON p.id = c.pet_id`

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail

	err := row.Scan(
		&d.ID,
		&d.ScheduledAt,
		&d.OccupiedUntil,
		&d.Description,
		&d.State,
		&d.ClientID,
		&d.PetID,
		&d.TypeID,
		&d.VetID,
		&d.CancellationReason,
		&d.UpdatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.TypeName,
		&d.PriceCents,
		&d.VetName,
		&d.ClientName,
		&d.PetName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &d, nil
}

func collectDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	var seconds int64

	err := row.Scan(&t.ID, &t.Name, &seconds, &t.PriceCents, &t.Emergency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTypeNotFound
		}
		return nil, err
	}

	t.Duration = time.Duration(seconds) * time.Second
	return &t, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow

	err := row.Scan(&w.ID, &w.VetID, &w.Start, &w.End, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	return &w, nil
}

func statesToStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// classifyInsertError turns constraint violations into the domain errors they stand for.
func classifyInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == constraintNoOverlap:
			return ErrSlotOverlap
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintSingleEmergency:
			return ErrEmergencyAlreadyActive
		}
	}
	return err
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveByVet(ctx context.Context, vetID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE vet_id = $1
		  AND state = ANY($2)
		ORDER BY scheduled_at
	`, vetID, statesToStrings(ActiveStates))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountByVetAndStates(ctx context.Context, vetID uuid.UUID, states []State) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE vet_id = $1
		  AND state = ANY($2)
	`, vetID, statesToStrings(states)).Scan(&n)
	return n, err
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, scheduled_at, occupied_until, description, state,
		                          client_id, pet_id, type_id, vet_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ScheduledAt, a.OccupiedUntil, a.Description, a.State,
		a.ClientID, a.PetID, a.TypeID, a.VetID)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, classifyInsertError(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentState(ctx context.Context, id uuid.UUID, from, to State, updatedBy string, reason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET state = $2,
		    updated_by = $4,
		    cancellation_reason = COALESCE($5, cancellation_reason),
		    updated_at = now()
		WHERE id = $1
		  AND state = $3
		RETURNING `+appointmentColumns,
		id, to, from, updatedBy, reason)

	return scanAppointment(row)
}

func (r *PgRepository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE c.client_id = $1
		ORDER BY c.scheduled_at DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func (r *PgRepository) ListByVet(ctx context.Context, vetID uuid.UUID, emergency bool) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE c.vet_id = $1
		  AND t.is_emergency = $2
		ORDER BY c.scheduled_at
	`, vetID, emergency)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func (r *PgRepository) LatestEmergencyForClient(ctx context.Context, clientID uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailSelect+`
		WHERE c.client_id = $1
		  AND c.state = 'emergency'
		ORDER BY c.scheduled_at DESC
		LIMIT 1
	`, clientID)
	return scanDetail(row)
}

// Appointment types

func (r *PgRepository) GetTypeByID(ctx context.Context, id int64) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_seconds, price_cents, is_emergency
		FROM appointment_types
		WHERE id = $1
	`, id)
	return scanType(row)
}

func (r *PgRepository) GetEmergencyType(ctx context.Context) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_seconds, price_cents, is_emergency
		FROM appointment_types
		WHERE is_emergency
	`)
	return scanType(row)
}

func (r *PgRepository) ListTypes(ctx context.Context) ([]AppointmentType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, duration_seconds, price_cents, is_emergency
		FROM appointment_types
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	return result, rows.Err()
}

// Availability

func (r *PgRepository) ListAvailabilityByVet(ctx context.Context, vetID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, vet_id, starts_at, ends_at, created_at
		FROM availability_windows
		WHERE vet_id = $1
		ORDER BY starts_at
	`, vetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, vet_id, starts_at, ends_at, created_at
		FROM availability_windows
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) CreateAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, vet_id, starts_at, ends_at, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, vet_id, starts_at, ends_at, created_at
	`, w.ID, w.VetID, w.Start, w.End)
	return scanWindow(row)
}

func (r *PgRepository) DeleteAvailability(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM availability_windows
		WHERE id = $1
		RETURNING id, vet_id, starts_at, ends_at, created_at
	`, id)
	return scanWindow(row)
}
