// Package slotlock provides short-lived, TTL-bound mutual exclusion keyed by
// booking slot or waitlist scope. Losers fail immediately; there is no
// queueing. A lock whose holder never releases it frees itself when its TTL
// elapses.
package slotlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/metrics"
)

var (
	ErrNotAcquired      = apperr.Conflict("lock_held", "lock is held by another request")
	ErrStoreUnavailable = apperr.Unavailable("lock_unavailable", "lock store unavailable", nil)
)

// Store is the atomic conditional-set backend. SetIfAbsent must only succeed
// when no unexpired value exists for key. DeleteIfOwner must only remove key
// while it still holds token.
type Store interface {
	SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	DeleteIfOwner(ctx context.Context, key, token string) error
}

// SlotKey identifies a bookable slot. The clinic is part of the key, so two
// bookings for the same doctor and time through different clinics take
// different locks; the re-check and the appointments_active_slot_uq index on
// (tenant, doctor, time) are the final guard.
type SlotKey struct {
	TenantID    uuid.UUID
	DoctorID    uuid.UUID
	ScheduledAt time.Time
	ClinicID    *uuid.UUID
}

func (k SlotKey) String() string {
	clinic := "-"
	if k.ClinicID != nil {
		clinic = k.ClinicID.String()
	}
	return fmt.Sprintf("lock:slot:%s:%s:%d:%s", k.TenantID, k.DoctorID, k.ScheduledAt.UTC().UnixMilli(), clinic)
}

// ScopeKey identifies a waitlist scope.
func ScopeKey(tenantID uuid.UUID, clinicID, doctorID *uuid.UUID) string {
	clinic, doctor := "-", "-"
	if clinicID != nil {
		clinic = clinicID.String()
	}
	if doctorID != nil {
		doctor = doctorID.String()
	}
	return fmt.Sprintf("lock:waitlist:%s:%s:%s", tenantID, clinic, doctor)
}

// Lease is proof of a held lock.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

type Manager struct {
	store      Store
	defaultTTL time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

func NewManager(store Store, defaultTTL time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Manager {
	if store == nil {
		panic("slotlock: store required")
	}
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Manager{store: store, defaultTTL: defaultTTL, logger: logger, metrics: m}
}

// Acquire tries to take key for ttl. Contention returns (nil, false, nil);
// only store failures return an error.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	token := uuid.NewString()
	ok, err := m.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		m.metrics.ObserveLock("error")
		return nil, false, ErrStoreUnavailable.Wrap(err)
	}
	if !ok {
		m.metrics.ObserveLock("contended")
		return nil, false, nil
	}
	m.metrics.ObserveLock("acquired")
	return &Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, true, nil
}

// Release clears the lease. It never fails the caller: a release that cannot
// reach the store is logged and left to TTL expiry.
func (m *Manager) Release(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := m.store.DeleteIfOwner(relCtx, lease.Key, lease.Token); err != nil {
		m.logger.Warn().Err(err).Str("lock_key", lease.Key).Msg("lock release failed, waiting for ttl")
	}
}

// WithLock runs fn while holding key. The lock is released on every path
// before WithLock returns. fn's context is bounded by the TTL.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	lease, ok, err := m.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer m.Release(ctx, lease)

	lockCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(lockCtx)
}
