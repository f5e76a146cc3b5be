package events

import (
	"context"
	"sync"
)

// MemoryPublisher records envelopes in order. Setting Err makes every
// publish fail after recording the attempt.
type MemoryPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	attempts  int
	Err       error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.Err != nil {
		return p.Err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *MemoryPublisher) Backend() string { return "memory" }

func (p *MemoryPublisher) Envelopes() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.envelopes))
	copy(out, p.envelopes)
	return out
}

func (p *MemoryPublisher) Types() []Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Type, 0, len(p.envelopes))
	for _, env := range p.envelopes {
		out = append(out, env.Type)
	}
	return out
}

// Count returns how many envelopes of type t were published.
func (p *MemoryPublisher) Count(t Type) int {
	n := 0
	for _, got := range p.Types() {
		if got == t {
			n++
		}
	}
	return n
}

func (p *MemoryPublisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// SyncEmitter publishes inline through a MemoryPublisher-style backend and
// swallows errors. Tests use it to assert on events without waiting.
type SyncEmitter struct {
	Pub Publisher
}

func (s SyncEmitter) Emit(ctx context.Context, ev Event) {
	env, err := NewEnvelope(ev)
	if err != nil {
		return
	}
	_ = s.Pub.Publish(ctx, env)
}
