package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
)

// NewPublisherFromConfig selects the backend named by EVENT_BACKEND. The
// returned close func releases broker connections.
func NewPublisherFromConfig(ctx context.Context, cfg config.Config, logger zerolog.Logger) (Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EventBackend {
	case "", "log":
		return NewLogPublisher(logger), noop, nil
	case "memory":
		return NewMemoryPublisher(), noop, nil
	case "sqs":
		client, err := NewSQSClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewSQSPublisher(client, cfg.SQSQueueURL), noop, nil
	case "amqp":
		pub, err := NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	default:
		return nil, nil, fmt.Errorf("events: unknown backend %q", cfg.EventBackend)
	}
}
