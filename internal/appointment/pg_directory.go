package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User directory and movement log, backed by the same pool as the scheduling tables.

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(&u.ID, &u.Name, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Role, err = ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	return &u, nil
}

func (r *PgRepository) FindUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, role
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) ListUsersByRole(ctx context.Context, role Role) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, role
		FROM users
		WHERE role = $1
		ORDER BY id
	`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}

	return result, rows.Err()
}

func (r *PgRepository) UpdateUserRole(ctx context.Context, id uuid.UUID, role Role) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET role = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, role
	`, id, string(role))
	return scanUser(row)
}

func (r *PgRepository) FindPet(ctx context.Context, id uuid.UUID) (*Pet, error) {
	var p Pet

	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name
		FROM pets
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPetNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) RecordMovement(ctx context.Context, ev MovementEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO movements (actor_id, action, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.ActorID, ev.Action, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
