package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

const (
	DefaultMaxQueueSize             = 250
	DefaultAutoExpiryHours          = 72
	DefaultAutoPromoteBufferMinutes = 30
)

var (
	ErrPolicyNotFound = apperr.NotFound("policy_not_found", "waitlist policy not found")
	ErrInvalidPolicy  = apperr.InvalidInput("invalid_policy", "invalid waitlist policy")
)

// PriorityWeights tunes the weighted scorer. All zero means first-in,
// first-out.
type PriorityWeights struct {
	WaitTime   float64 `json:"wait_time"`
	Membership float64 `json:"membership"`
	Condition  float64 `json:"condition"`
}

func (w PriorityWeights) IsZero() bool {
	return w == PriorityWeights{}
}

type Policy struct {
	TenantID                 uuid.UUID
	ClinicID                 *uuid.UUID
	MaxQueueSize             int
	AutoExpiryHours          int
	AutoPromoteBufferMinutes int
	Weights                  PriorityWeights
	UpdatedAt                time.Time
}

func DefaultPolicy(tenantID uuid.UUID, clinicID *uuid.UUID) Policy {
	return Policy{
		TenantID:                 tenantID,
		ClinicID:                 clinicID,
		MaxQueueSize:             DefaultMaxQueueSize,
		AutoExpiryHours:          DefaultAutoExpiryHours,
		AutoPromoteBufferMinutes: DefaultAutoPromoteBufferMinutes,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.TenantID == uuid.Nil:
		return ErrInvalidPolicy.Withf("tenant is required")
	case p.MaxQueueSize <= 0:
		return ErrInvalidPolicy.Withf("max_queue_size must be positive")
	case p.AutoExpiryHours <= 0:
		return ErrInvalidPolicy.Withf("auto_expiry_hours must be positive")
	case p.AutoPromoteBufferMinutes < 0:
		return ErrInvalidPolicy.Withf("auto_promote_buffer_minutes cannot be negative")
	case p.Weights.WaitTime < 0 || p.Weights.Membership < 0 || p.Weights.Condition < 0:
		return ErrInvalidPolicy.Withf("priority weights cannot be negative")
	}
	return nil
}

func (p Policy) ExpiresAt(from time.Time) time.Time {
	return from.Add(time.Duration(p.AutoExpiryHours) * time.Hour)
}

func (p Policy) PromoteBuffer() time.Duration {
	return time.Duration(p.AutoPromoteBufferMinutes) * time.Minute
}

type PolicyStore interface {
	// GetPolicy returns the policy stored for exactly (tenant, clinic), or
	// ErrPolicyNotFound.
	GetPolicy(ctx context.Context, tenantID uuid.UUID, clinicID *uuid.UUID) (*Policy, error)
	UpsertPolicy(ctx context.Context, p Policy) (*Policy, error)
}

// ResolvePolicy falls back from the clinic policy to the tenant-wide one,
// then to the built-in defaults.
func ResolvePolicy(ctx context.Context, store PolicyStore, tenantID uuid.UUID, clinicID *uuid.UUID) (Policy, error) {
	if clinicID != nil {
		p, err := store.GetPolicy(ctx, tenantID, clinicID)
		if err == nil {
			return *p, nil
		}
		if !errors.Is(err, ErrPolicyNotFound) {
			return Policy{}, err
		}
	}
	p, err := store.GetPolicy(ctx, tenantID, nil)
	if err == nil {
		return *p, nil
	}
	if !errors.Is(err, ErrPolicyNotFound) {
		return Policy{}, err
	}
	return DefaultPolicy(tenantID, clinicID), nil
}
