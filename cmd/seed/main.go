package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logger"
)

type seedOptions struct {
	vets      int
	onCall    int
	clients   int
	maxPets   int
	days      int
	batchSize int
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Populate the database with fake clinic data",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.vets, "vets", 8, "Regular veterinarians to create")
	cmd.Flags().IntVar(&opts.onCall, "on-call", 3, "On-call veterinarians to create")
	cmd.Flags().IntVar(&opts.clients, "clients", 500, "Clients to create")
	cmd.Flags().IntVar(&opts.maxPets, "max-pets", 3, "Maximum pets per client")
	cmd.Flags().IntVar(&opts.days, "days", 14, "Days of availability to open, starting today")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 250, "Rows per transaction for clients")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (o seedOptions) validate() error {
	if o.batchSize <= 0 {
		return fmt.Errorf("--batch-size must be > 0")
	}
	if o.vets < 0 || o.onCall < 0 || o.clients < 0 || o.days < 0 {
		return fmt.Errorf("--vets, --on-call, --clients and --days must not be negative")
	}
	return nil
}

func run(ctx context.Context, opts seedOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Env)
	defer log.Sync()

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4}, log)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())
	today := time.Now().UTC().Truncate(24 * time.Hour)

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return insertUser(ctx, tx, uuid.New(), "Clinic Admin", "admin@clinic.local", appointment.RoleAdmin)
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := seedVets(ctx, pool, log, opts.vets, appointment.RoleVeterinarian, today, opts.days); err != nil {
		return fmt.Errorf("seed veterinarians: %w", err)
	}
	if err := seedVets(ctx, pool, log, opts.onCall, appointment.RoleOnCallVeterinarian, today, opts.days); err != nil {
		return fmt.Errorf("seed on-call veterinarians: %w", err)
	}
	if err := seedClients(ctx, pool, log, opts); err != nil {
		return fmt.Errorf("seed clients: %w", err)
	}

	log.Info("seed complete")
	return nil
}

func insertUser(ctx context.Context, tx pgx.Tx, id uuid.UUID, name, email string, role appointment.Role) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, now(), now())
	`, id, name, email, string(role))
	return err
}

// seedVets creates veterinarians with one availability window per day. Regular
// vets work 09:00-17:00; on-call vets cover the whole day.
func seedVets(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, count int, role appointment.Role, today time.Time, days int) error {
	log.Info("seeding veterinarians", zap.Int("count", count), zap.String("role", string(role)))

	openAt, closeAt := 9*time.Hour, 17*time.Hour
	if role == appointment.RoleOnCallVeterinarian {
		openAt, closeAt = 0, 24*time.Hour-time.Minute
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			name := "Dr. " + gofakeit.LastName()

			if err := insertUser(ctx, tx, id, name, gofakeit.Email(), role); err != nil {
				return err
			}

			for d := 0; d < days; d++ {
				day := today.AddDate(0, 0, d)
				if role == appointment.RoleVeterinarian && day.Weekday() == time.Sunday {
					continue
				}
				if _, err := tx.Exec(ctx, `
					INSERT INTO availability_windows (id, vet_id, starts_at, ends_at, created_at)
					VALUES ($1, $2, $3, $4, now())
				`, uuid.New(), id, day.Add(openAt), day.Add(closeAt)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, opts seedOptions) error {
	log.Info("seeding clients", zap.Int("count", opts.clients))

	for offset := 0; offset < opts.clients; offset += opts.batchSize {
		end := min(offset+opts.batchSize, opts.clients)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				clientID := uuid.New()
				if err := insertUser(ctx, tx, clientID, gofakeit.Name(), gofakeit.Email(), appointment.RoleClient); err != nil {
					return err
				}

				pets := gofakeit.Number(1, max(opts.maxPets, 1))
				for p := 0; p < pets; p++ {
					if _, err := tx.Exec(ctx, `
						INSERT INTO pets (id, owner_id, name, species, created_at)
						VALUES ($1, $2, $3, $4, now())
					`, uuid.New(), clientID, gofakeit.PetName(), gofakeit.Animal()); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info("clients seeded", zap.Int("done", end), zap.Int("total", opts.clients))
	}

	return nil
}
