package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrEntryNotFound   = apperr.NotFound("waitlist_entry_not_found", "waitlist entry not found")
	ErrDuplicate       = apperr.Conflict("waitlist_duplicate", "patient already waiting in this queue")
	ErrStatusChanged   = apperr.Conflict("stale_status", "waitlist entry changed concurrently, reload and retry")
	ErrAlreadyTerminal = apperr.Conflict("already_terminal", "waitlist entry is already closed")
)

// StatusChange is a compare-and-set on status. ExpiresBy, when set, can only
// pull the expiry earlier.
type StatusChange struct {
	TenantID      uuid.UUID
	ID            uuid.UUID
	From          Status
	To            Status
	ExpiresBy     *time.Time
	AppointmentID *uuid.UUID
	Audit         AuditEntry
}

type BulkChange struct {
	TenantID  uuid.UUID
	IDs       []uuid.UUID
	To        Status
	ExpiresBy *time.Time
	Audit     AuditEntry
}

type ListFilter struct {
	Scope    Scope
	Statuses []Status
	Limit    int
	Offset   int
}

type Repository interface {
	// Create returns ErrDuplicate when the patient already has an open
	// entry in the scope.
	Create(ctx context.Context, e Entry) (*Entry, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Entry, error)
	// FindOpen returns the patient's active or invited entry, overdue or not,
	// so the caller can expire it before admitting a new one.
	FindOpen(ctx context.Context, scope Scope, patientID uuid.UUID) (*Entry, error)
	// CountOpen counts active and invited entries whose expiry is after now.
	CountOpen(ctx context.Context, scope Scope, now time.Time) (int, error)

	// List orders by priority score, then creation time.
	List(ctx context.Context, f ListFilter) ([]Entry, error)

	UpdateStatus(ctx context.Context, c StatusChange) (*Entry, error)
	UpdatePriority(ctx context.Context, tenantID, id uuid.UUID, score float64, audit AuditEntry) (*Entry, error)

	// ExpireDue moves open entries whose expiry is at or before now to
	// expired. A nil tenant sweeps every tenant.
	ExpireDue(ctx context.Context, tenantID *uuid.UUID, now time.Time, limit int, audit AuditEntry) ([]Transitioned, error)

	// BulkUpdateStatus applies one status to open entries among ids. Matched
	// counts ids found in the tenant; Modified counts rows changed.
	BulkUpdateStatus(ctx context.Context, c BulkChange) (BulkResult, error)
}
