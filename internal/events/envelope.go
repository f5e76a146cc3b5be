package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire form handed to publishers.
type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       Type            `json:"type"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

var (
	errNilEvent = errors.New("events: event required")
	nowFunc     = time.Now
)

// Validate checks that the event's type tag belongs to its family.
func Validate(ev Event) error {
	switch e := ev.(type) {
	case nil:
		return errNilEvent
	case ConsultationEvent:
		if !consultationTypes[e.Type] {
			return fmt.Errorf("events: %q is not a consultation event", e.Type)
		}
	case WaitlistEvent:
		if !waitlistTypes[e.Type] {
			return fmt.Errorf("events: %q is not a waitlist event", e.Type)
		}
	default:
		return fmt.Errorf("events: unsupported event %T", ev)
	}
	if ev.Tenant() == uuid.Nil {
		return fmt.Errorf("events: %s missing tenant", ev.EventType())
	}
	return nil
}

func NewEnvelope(ev Event) (Envelope, error) {
	if err := Validate(ev); err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}
	return Envelope{
		EventID:    uuid.New(),
		Type:       ev.EventType(),
		TenantID:   ev.Tenant(),
		OccurredAt: nowFunc().UTC(),
		Payload:    payload,
	}, nil
}

// Decode is the consumer-side counterpart of NewEnvelope.
func Decode(data []byte) (Event, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	switch {
	case consultationTypes[env.Type]:
		var ev ConsultationEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, env, fmt.Errorf("events: decode %s: %w", env.Type, err)
		}
		return ev, env, nil
	case waitlistTypes[env.Type]:
		var ev WaitlistEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, env, fmt.Errorf("events: decode %s: %w", env.Type, err)
		}
		return ev, env, nil
	default:
		return nil, env, fmt.Errorf("events: unknown event type %q", env.Type)
	}
}
