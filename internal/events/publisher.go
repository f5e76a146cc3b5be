package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/metrics"
)

// Publisher hands an envelope to a downstream queue. Delivery is
// at-least-once; consumers dedupe on EventID.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Backend() string
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Dispatcher is the fire-and-forget boundary: Emit never blocks on, fails
// because of, or rolls back for the downstream queue. Failures are logged.
type Dispatcher struct {
	pub     Publisher
	logger  zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(pub Publisher, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if pub == nil {
		panic("events: publisher required")
	}
	return &Dispatcher{pub: pub, logger: logger, metrics: m, timeout: 5 * time.Second}
}

func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	env, err := NewEnvelope(ev)
	if err != nil {
		d.logger.Error().Err(err).Msg("dropping invalid event")
		d.metrics.ObservePublish(d.pub.Backend(), "invalid", "error")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := d.pub.Publish(pubCtx, env); err != nil {
			d.logger.Error().Err(err).
				Str("event_id", env.EventID.String()).
				Str("event_type", string(env.Type)).
				Str("tenant_id", env.TenantID.String()).
				Str("backend", d.pub.Backend()).
				Msg("event publish failed")
			d.metrics.ObservePublish(d.pub.Backend(), string(env.Type), "error")
			return
		}
		d.metrics.ObservePublish(d.pub.Backend(), string(env.Type), "ok")
	}()
}

// Wait blocks until in-flight publishes finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogPublisher writes envelopes to the log. Used when no queue is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.logger.Info().
		Str("event_id", env.EventID.String()).
		Str("event_type", string(env.Type)).
		Str("tenant_id", env.TenantID.String()).
		RawJSON("payload", env.Payload).
		Msg("domain event")
	return nil
}

func (p *LogPublisher) Backend() string { return "log" }
