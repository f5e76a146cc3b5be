package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/changefeed"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	a, err := app.New(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set, using an insecure development secret")
		cfg.JWTSecret = "dev-insecure-secret"
	}

	streamer := changefeed.NewStreamer(changefeed.Options{
		RefreshInterval:   cfg.StreamRefreshInterval,
		HeartbeatInterval: cfg.StreamHeartbeatInterval,
		Logger:            logger.With().Str("component", "changefeed").Logger(),
		Metrics:           a.Metrics,
	})

	handler := api.NewRouter(api.RouterConfig{
		Appointments:       a.Appointments,
		Waitlist:           a.Waitlist,
		Streamer:           streamer,
		Health:             api.NewHealthHandler(a.Pool, api.RedisPinger(a.Redis), cfg.Env, version),
		Auth:               api.NewAuthenticator(cfg.JWTSecret),
		Limiter:            api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Gatherer:           a.Registry,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// Streams hang off serveCtx so they end as soon as shutdown begins.
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return serveCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			a.Close()
			os.Exit(1)
		}
	}

	cancelServe()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}
