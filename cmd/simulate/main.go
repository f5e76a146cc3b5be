package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(baseCfg.LogLevel, baseCfg.Env).With().Str("service", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loadCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	pgPool, err := db.ConnectPostgres(loadCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(loadCtx, pgPool, cfg)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Str("tenant_id", dataPool.TenantID.String()).
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Msg("data pool loaded")

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Workers * cfg.Contenders,
			MaxIdleConnsPerHost: cfg.Workers * cfg.Contenders,
		},
	}
	sim := NewSimulator(cfg, dataPool, api.NewAuthenticator(cfg.JWTSecret), client, logger)
	sim.Run(rootCtx)
	sim.PrintReport(os.Stdout)

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	doubles, err := countDoubleBookings(checkCtx, pgPool, dataPool.TenantID)
	if err != nil {
		logger.Fatal().Err(err).Msg("double booking check failed")
	}
	fmt.Printf("Stored slots with more than one live appointment: %d\n", doubles)
	if doubles > 0 || sim.Contention.Violations.Load() > 0 {
		os.Exit(1)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		Contenders:      getInt("SIM_CONTENDERS", 20),
		ContendRatio:    getFloat("SIM_CONTEND_RATIO", 0.5),
		WaitlistRatio:   getFloat("SIM_WAITLIST_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:     getInt("SIM_DOCTOR_LIMIT", 50),
		TenantID:        os.Getenv("SIM_TENANT_ID"),
		HorizonDays:     getInt("SIM_HORIZON_DAYS", 7),
		SlotGranularity: getDuration("SIM_SLOT_GRANULARITY", 15*time.Minute),
		PostgresDSN:     base.PostgresDSN,
		JWTSecret:       base.JWTSecret,
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-insecure-secret"
	}

	total := cfg.ContendRatio + cfg.WaitlistRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ContendRatio /= total
		cfg.WaitlistRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders <= 0 {
		return fmt.Errorf("SIM_CONTENDERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.TenantID != "" {
		if _, err := uuid.Parse(cfg.TenantID); err != nil {
			return fmt.Errorf("SIM_TENANT_ID: %w", err)
		}
	}
	return nil
}

func loadDataPool(ctx context.Context, q db.Querier, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	if cfg.TenantID != "" {
		dp.TenantID = uuid.MustParse(cfg.TenantID)
	} else if err := q.QueryRow(ctx, `SELECT id FROM tenants ORDER BY created_at LIMIT 1`).Scan(&dp.TenantID); err != nil {
		return nil, fmt.Errorf("pick tenant: %w", err)
	}

	var err error
	dp.Patients, err = loadIDs(ctx, q, `SELECT id FROM patients WHERE tenant_id = $1 LIMIT $2`, dp.TenantID, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dp.Doctors, err = loadIDs(ctx, q, `SELECT id FROM doctors WHERE tenant_id = $1 LIMIT $2`, dp.TenantID, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dp.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	return dp, nil
}

func loadIDs(ctx context.Context, q db.Querier, sql string, tenantID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, sql, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// countDoubleBookings is the storage-side check: slots holding more than one
// appointment that is not cancelled.
func countDoubleBookings(ctx context.Context, q db.Querier, tenantID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1
			FROM appointments
			WHERE tenant_id = $1 AND status <> 'cancelled'
			GROUP BY doctor_id, scheduled_at
			HAVING count(*) > 1
		) dup
	`, tenantID).Scan(&n)
	return n, err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
