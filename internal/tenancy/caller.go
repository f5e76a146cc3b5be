package tenancy

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

var ErrInvalidCaller = apperr.InvalidInput("invalid_caller", "caller must carry tenant, user and a known role")

// Caller is the resolved identity every core operation receives explicitly.
type Caller struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     Role
}

func (c Caller) Validate() error {
	if c.TenantID == uuid.Nil || c.UserID == uuid.Nil {
		return ErrInvalidCaller
	}
	switch c.Role {
	case RolePatient, RoleDoctor, RoleAdmin, RoleSystem:
		return nil
	}
	return ErrInvalidCaller
}

// IsAdmin reports whether the caller has tenant-wide authority.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RoleSystem
}

// IsStaff reports whether the caller is clinical or administrative staff.
func (c Caller) IsStaff() bool {
	return c.Role == RoleDoctor || c.IsAdmin()
}

// SystemCaller is used by background workers acting on behalf of a tenant.
func SystemCaller(tenantID uuid.UUID) Caller {
	return Caller{TenantID: tenantID, UserID: systemUserID, Role: RoleSystem}
}

var systemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type ctxKey string

const callerKey ctxKey = "clinic.caller"

// WithCaller stores the resolved caller for transport handlers. Core
// services never read it back; handlers pass the caller explicitly.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext extracts the caller if present and valid.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	if !ok {
		return Caller{}, false
	}
	return c, c.Validate() == nil
}
