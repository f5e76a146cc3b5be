package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/changefeed"
)

type RouterConfig struct {
	Appointments AppointmentService
	Waitlist     WaitlistService
	Streamer     *changefeed.Streamer
	Health       *HealthHandler
	Auth         *Authenticator
	Limiter      *RateLimiter
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger

	// StreamAppointments and StreamWaitlist default to Appointments and
	// Waitlist when those satisfy the feed read paths.
	StreamAppointments changefeed.AppointmentLister
	StreamWaitlist     changefeed.WaitlistLister

	CORSAllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(cfg.Logger))
	r.Use(Recover)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	appts := appointmentHandlers{svc: cfg.Appointments}
	wl := waitlistHandlers{svc: cfg.Waitlist}

	streams := streamHandlers{
		streamer:     cfg.Streamer,
		upgrader:     changefeed.NewUpgrader(cfg.CORSAllowedOrigins),
		appointments: cfg.StreamAppointments,
		waitlist:     cfg.StreamWaitlist,
	}
	if streams.appointments == nil {
		streams.appointments = cfg.Appointments
	}
	if streams.waitlist == nil {
		streams.waitlist = cfg.Waitlist
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(cfg.Auth.Authenticate)
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Limit)
		}

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", appts.book)
			r.Get("/", appts.list)
			r.Get("/{id}", appts.get)
			r.Post("/{id}/status", appts.transition)
			r.Put("/{id}/consultation", appts.consultation)
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", wl.enqueue)
			r.Get("/", wl.list)
			r.Get("/count", wl.count)
			r.Post("/bulk-status", wl.bulkStatus)
			r.Post("/sweep", wl.sweep)
			r.Get("/policy", wl.getPolicy)
			r.Put("/policy", wl.putPolicy)
			r.Get("/{id}", wl.get)
			r.Post("/{id}/status", wl.updateStatus)
			r.Post("/{id}/promote", wl.promote)
			r.Put("/{id}/priority", wl.priority)
		})

		if cfg.Streamer != nil {
			r.Get("/stream/appointments", streams.sse(feedAppointments))
			r.Get("/stream/waitlist", streams.sse(feedWaitlist))
			r.Get("/ws/appointments", streams.ws(feedAppointments))
			r.Get("/ws/waitlist", streams.ws(feedWaitlist))
		}
	})

	return r
}
