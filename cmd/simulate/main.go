package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
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
)

// The simulator fires bursts of concurrent bookings at the same veterinarian and
// start time, then checks that each burst produced exactly one appointment.

type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Concurrency int
	Emergencies int
	TypeID      int64
}

type participant struct {
	actor appointment.Actor
	petID uuid.UUID
	token string
}

type target struct {
	vetID  uuid.UUID
	window appointment.AvailabilityWindow
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Simulator struct {
	config       SimConfig
	client       *http.Client
	log          *zap.Logger
	participants []participant
	target       target

	booking   OperationMetrics
	emergency OperationMetrics

	// rounds where the number of winners was not exactly one
	violations int64
}

func main() {
	var cfg SimConfig

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Run a concurrent booking storm against a running api-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	cmd.Flags().IntVar(&cfg.Rounds, "rounds", 10, "Distinct slots to contend for")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 20, "Simultaneous bookings per slot")
	cmd.Flags().IntVar(&cfg.Emergencies, "emergencies", 10, "Simultaneous emergency requests, 0 to skip")
	cmd.Flags().Int64Var(&cfg.TypeID, "type-id", 1, "Appointment type to book")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, simCfg SimConfig) error {
	if simCfg.Rounds <= 0 || simCfg.Concurrency <= 0 {
		return fmt.Errorf("--rounds and --concurrency must be > 0")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Env)
	defer log.Sync()

	pgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2}, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	sim := &Simulator{
		config: simCfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	if err := sim.load(pgCtx, pool, []byte(cfg.JWTSecret)); err != nil {
		return err
	}

	log.Info("simulation starting",
		zap.Int("rounds", simCfg.Rounds),
		zap.Int("concurrency", simCfg.Concurrency),
		zap.String("vet_id", sim.target.vetID.String()),
	)

	sim.runBookingRounds(ctx)
	if simCfg.Emergencies > 0 {
		sim.runEmergencyBurst(ctx)
	}

	sim.PrintReport()
	if atomic.LoadInt64(&sim.violations) > 0 {
		return fmt.Errorf("%d rounds booked the same slot more than once", sim.violations)
	}
	return nil
}

// load picks an upcoming full-length availability window of a regular vet and
// enough clients with pets to fill one burst, minting a token for each client.
func (s *Simulator) load(ctx context.Context, pool *pgxpool.Pool, secret []byte) error {
	err := pool.QueryRow(ctx, `
		SELECT w.id, w.vet_id, w.starts_at, w.ends_at
		FROM availability_windows w
		JOIN users u ON u.id = w.vet_id
		WHERE u.role = $1 AND w.starts_at > now()
		ORDER BY w.ends_at - w.starts_at DESC, w.starts_at
		LIMIT 1
	`, string(appointment.RoleVeterinarian)).Scan(&s.target.window.ID, &s.target.vetID, &s.target.window.Start, &s.target.window.End)
	if err != nil {
		return fmt.Errorf("load target availability: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT DISTINCT ON (u.id) u.id, u.name, p.id
		FROM users u
		JOIN pets p ON p.owner_id = u.id
		WHERE u.role = $1
		ORDER BY u.id
		LIMIT $2
	`, string(appointment.RoleClient), max(s.config.Concurrency, s.config.Emergencies))
	if err != nil {
		return fmt.Errorf("load clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p participant
		if err := rows.Scan(&p.actor.ID, &p.actor.Name, &p.petID); err != nil {
			return err
		}
		p.actor.Role = appointment.RoleClient

		p.token, err = api.IssueToken(secret, p.actor, time.Hour)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		s.participants = append(s.participants, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(s.participants) == 0 {
		return fmt.Errorf("no clients with pets found, run the seed command first")
	}
	return nil
}

func (s *Simulator) runBookingRounds(ctx context.Context) {
	// an hour apart so rounds never contend with each other
	for round := 0; round < s.config.Rounds; round++ {
		at := s.target.window.Start.Add(time.Duration(round) * time.Hour)
		if at.After(s.target.window.End) {
			s.log.Warn("availability window exhausted", zap.Int("rounds_run", round))
			return
		}

		var winners int64
		s.burst(s.config.Concurrency, func(p participant) {
			status, latency := s.post(ctx, "/appointments", p.token, map[string]any{
				"time":        at.Format(time.RFC3339),
				"description": "Load test booking",
				"pet_id":      p.petID.String(),
				"type_id":     s.config.TypeID,
				"vet_id":      s.target.vetID.String(),
			})
			s.booking.Record(latency, status)
			if status == http.StatusCreated {
				atomic.AddInt64(&winners, 1)
			}
		})

		if winners > 1 {
			atomic.AddInt64(&s.violations, 1)
		}
		s.log.Info("round complete",
			zap.Int("round", round),
			zap.Time("slot", at),
			zap.Int64("winners", winners),
		)
	}
}

func (s *Simulator) runEmergencyBurst(ctx context.Context) {
	s.burst(s.config.Emergencies, func(p participant) {
		status, latency := s.post(ctx, "/appointments/emergency", p.token, map[string]any{
			"pet_id": p.petID.String(),
		})
		s.emergency.Record(latency, status)
	})
}

// burst runs fn for n participants at once, released together.
func (s *Simulator) burst(n int, fn func(p participant)) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		p := s.participants[i%len(s.participants)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(p)
		}()
	}
	close(start)
	wg.Wait()
}

func (s *Simulator) post(ctx context.Context, path, token string, payload any) (int, time.Duration) {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.log.Debug("request failed", zap.String("path", path), zap.Error(err))
		return 0, latency
	}
	defer resp.Body.Close()

	return resp.StatusCode, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Target vet: %s\n", s.target.vetID)
	fmt.Printf("Rounds: %d x %d concurrent bookings\n", s.config.Rounds, s.config.Concurrency)
	fmt.Printf("Double bookings: %d\n", atomic.LoadInt64(&s.violations))
	fmt.Println()

	printOperationReport("Booking", &s.booking)
	printOperationReport("Emergency", &s.emergency)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Created: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
	fmt.Println()
}
