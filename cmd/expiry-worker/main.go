package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "expiry-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	a, err := app.New(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	sweeps := []sweep{
		{name: "payment_timeout", run: a.Appointments.ExpireUnpaid},
		{name: "waitlist_expiry", run: a.Waitlist.SweepAll},
	}

	runOnce(rootCtx, logger, sweeps)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, sweeps)
		}
	}
}

type sweep struct {
	name string
	run  func(ctx context.Context) (int, error)
}

// runOnce runs each sweep under its own deadline; one failing does not skip
// the others.
func runOnce(ctx context.Context, logger zerolog.Logger, sweeps []sweep) {
	for _, s := range sweeps {
		runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		start := time.Now()
		n, err := s.run(runCtx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Str("sweep", s.name).Msg("expiry run error")
			continue
		}
		logger.Debug().Str("sweep", s.name).Int("expired", n).Dur("took", time.Since(start)).Msg("expiry run complete")
	}
}
