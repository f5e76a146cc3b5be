package changefeed

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCreated       EventType = "created"
	EventUpdated       EventType = "updated"
	EventStatusChanged EventType = "status-changed"
	EventRemoved       EventType = "removed"
	EventHeartbeat     EventType = "heartbeat"
	EventError         EventType = "error"
)

// Event is one message on a feed.
type Event struct {
	Type           EventType  `json:"type"`
	ID             *uuid.UUID `json:"id,omitempty"`
	Status         string     `json:"status,omitempty"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Data           any        `json:"data,omitempty"`
	Message        string     `json:"message,omitempty"`
	At             time.Time  `json:"at"`
}

// Source re-fetches a feed's current result set.
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

type SourceFunc func(ctx context.Context) ([]Item, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]Item, error) { return f(ctx) }

type seen struct {
	fingerprint uint64
	status      string
}

// Session holds the last-seen fingerprint and status per entity for one
// connection. It is not safe for concurrent use; a stream drives it from a
// single goroutine.
type Session struct {
	src  Source
	now  func() time.Time
	seen map[uuid.UUID]seen
}

func Open(src Source, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{src: src, now: now, seen: make(map[uuid.UUID]seen)}
}

// Tick re-fetches the result set and returns the diff against the previous
// tick. On a fetch error the session state is left untouched, so the next
// tick diffs against the last good result.
func (s *Session) Tick(ctx context.Context) ([]Event, error) {
	items, err := s.src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return s.diff(items), nil
}

func (s *Session) diff(items []Item) []Event {
	at := s.now().UTC()
	present := make(map[uuid.UUID]bool, len(items))
	var out []Event

	for _, it := range items {
		if present[it.ID] {
			continue
		}
		present[it.ID] = true
		id := it.ID

		prev, known := s.seen[id]
		switch {
		case !known:
			out = append(out, Event{Type: EventCreated, ID: &id, Status: it.Status, Data: it.Payload, At: at})
		case prev.status != it.Status:
			out = append(out, Event{Type: EventStatusChanged, ID: &id, Status: it.Status, PreviousStatus: prev.status, Data: it.Payload, At: at})
		case prev.fingerprint != it.Fingerprint:
			out = append(out, Event{Type: EventUpdated, ID: &id, Status: it.Status, Data: it.Payload, At: at})
		default:
			continue
		}
		s.seen[id] = seen{fingerprint: it.Fingerprint, status: it.Status}
	}

	var gone []uuid.UUID
	for id := range s.seen {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return bytes.Compare(gone[i][:], gone[j][:]) < 0 })
	for _, id := range gone {
		id := id
		out = append(out, Event{Type: EventRemoved, ID: &id, PreviousStatus: s.seen[id].status, At: at})
		delete(s.seen, id)
	}
	return out
}

// Len reports how many entities the session is tracking.
func (s *Session) Len() int { return len(s.seen) }

// Close drops the session state.
func (s *Session) Close() {
	clear(s.seen)
}
