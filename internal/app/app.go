// Package app wires the storage, lock, event and domain layers shared by the
// api-server and expiry-worker binaries.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/slotlock"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

type App struct {
	Config       config.Config
	Logger       zerolog.Logger
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Locks        *slotlock.Manager
	Dispatcher   *events.Dispatcher
	Appointments *appointment.Service
	Waitlist     *waitlist.Engine

	closePublisher func() error
	closeOnce      sync.Once
}

// New connects to Postgres, Redis and the event backend and builds the
// domain services on top of them. Close releases everything New opened.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	logger.Info().Msg("connected to postgres")

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	pub, closePub, err := events.NewPublisherFromConfig(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	a.closePublisher = closePub
	logger.Info().Str("backend", pub.Backend()).Msg("event publisher ready")

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Locks = slotlock.NewManager(redisclient.NewLockStore(rdb), cfg.LockTTL, logger.With().Str("component", "slotlock").Logger(), a.Metrics)
	a.Dispatcher = events.NewDispatcher(pub, logger.With().Str("component", "events").Logger(), a.Metrics).
		WithTimeout(cfg.EventPublishTimeout)

	directory := appointment.NewPgDirectory(pool)
	relay := &slotRelay{}

	a.Appointments = appointment.NewService(appointment.NewPgRepository(pool), a.Locks, a.Dispatcher, appointment.Options{
		LockTTL:       cfg.LockTTL,
		PaymentWindow: cfg.PaymentWindow,
		Payments:      appointment.PaymentGatewayFor(cfg.PaymentRequired),
		Directory:     directory,
		OnSlotRelease: relay,
		Logger:        logger.With().Str("component", "appointment").Logger(),
		Metrics:       a.Metrics,
	})

	a.Waitlist = waitlist.NewEngine(waitlist.NewPgRepository(pool), waitlist.NewPgPolicyStore(pool), a.Locks, a.Dispatcher, waitlist.Options{
		SerializeEnqueue: cfg.WaitlistSerializeEnqueue,
		BulkLimit:        cfg.WaitlistBulkLimit,
		Directory:        directory,
		Appointments:     a.Appointments,
		Logger:           logger.With().Str("component", "waitlist").Logger(),
		Metrics:          a.Metrics,
	})
	relay.set(a.Waitlist)

	return a, nil
}

// Close waits for in-flight event publishes, then closes connections. It is
// safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.closePublisher != nil {
		if err := a.closePublisher(); err != nil {
			a.Logger.Error().Err(err).Msg("close event publisher")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
