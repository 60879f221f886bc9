package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/api"
	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logger"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Veterinary clinic appointment scheduling API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				return m.Up(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				return m.Status(ctx)
			})
		},
	})

	return cmd
}

// tokenCmd mints a bearer token for an existing user, for local testing and ops.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, _ := cmd.Flags().GetString("user")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			userID, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("--user must be a valid UUID")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Env)
			defer log.Sync()

			ctx := cmd.Context()
			pool, err := connectPostgres(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			user, err := appointment.NewPgRepository(pool).FindUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("find user: %w", err)
			}

			token, err := api.IssueToken([]byte(cfg.JWTSecret), appointment.Actor{
				ID:   user.ID,
				Name: user.Name,
				Role: user.Role,
			}, ttl)
			if err != nil {
				return err
			}

			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User ID to issue the token for")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func withMigrator(ctx context.Context, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Env)
	defer log.Sync()

	pool, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, log)
	if err != nil {
		return err
	}
	defer migrator.Close()

	return fn(ctx, migrator)
}

func connectPostgres(ctx context.Context, cfg config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: cfg.PGMaxConns,
		MinConns: cfg.PGMinConns,
	}, log)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Env)
	defer log.Sync()

	log.Info("api-server starting",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := connectPostgres(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		migrator, err := db.NewMigrator(pool, log)
		if err != nil {
			return err
		}
		err = migrator.Up(rootCtx)
		_ = migrator.Close()
		if err != nil {
			return err
		}
	}

	var (
		locker      redisclient.Locker
		redisHealth api.Pinger
	)
	switch cfg.LockBackend {
	case config.LockBackendLocal:
		if cfg.IsProduction() {
			log.Warn("in-process locks in production; bookings are only serialised within this instance")
		} else {
			log.Info("using in-process locks")
		}
		locker = redisclient.NewLocalLocker()
	default:
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		redisHealth = api.RedisPinger(rdb)
	}

	repo := appointment.NewPgRepository(pool)
	svc := appointment.NewService(repo, locker, log.Named("scheduler"))

	router := api.NewRouter(api.RouterConfig{
		Scheduler: svc,
		Health:    api.NewHealthHandler(pool, redisHealth, cfg.Env, version),
		Logger:    log.Named("http"),
		JWTSecret: []byte(cfg.JWTSecret),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info("api-server stopped")
	return nil
}
