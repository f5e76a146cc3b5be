package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), getEnv("APP_ENV", "dev")).With().Str("service", "seed").Logger()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	plan := Plan{
		Tenants:           getInt("SEED_TENANTS", 2),
		ClinicsPerTenant:  getInt("SEED_CLINICS_PER_TENANT", 3),
		DoctorsPerClinic:  getInt("SEED_DOCTORS_PER_CLINIC", 10),
		PatientsPerTenant: getInt("SEED_PATIENTS_PER_TENANT", 4000),
	}
	logger.Info().Interface("plan", plan).Msg("seed starting")

	dataset := Generate(plan)
	if err := Write(ctx, pool, dataset, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}

	for _, t := range dataset.Tenants {
		logger.Info().Str("tenant_id", t.ID.String()).Str("name", t.Name).Msg("tenant seeded")
	}
	logger.Info().
		Int("clinics", len(dataset.Clinics)).
		Int("doctors", len(dataset.Doctors)).
		Int("patients", len(dataset.Patients)).
		Int("policies", len(dataset.Policies)).
		Msg("seed complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
