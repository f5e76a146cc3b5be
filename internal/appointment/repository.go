package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.NotFound("appointment_not_found", "appointment not found")
	ErrSlotTaken           = apperr.Conflict("slot_taken", "slot no longer available")
	ErrStatusChanged       = apperr.Conflict("status_changed", "appointment status changed concurrently, reload and retry")
)

// StatusUpdate is a compare-and-set on status: it only applies while the
// stored status still equals From.
type StatusUpdate struct {
	TenantID     uuid.UUID
	ID           uuid.UUID
	From         Status
	To           Status
	Consultation *Consultation
	Payment      *Payment
	CancelReason string
}

// ConsultationEdit replaces the consultation record. Like StatusUpdate it is a
// compare-and-set: it only applies while the row still has Status and
// UpdatedAt as read, and Status allows edits.
type ConsultationEdit struct {
	TenantID     uuid.UUID
	ID           uuid.UUID
	Status       Status
	UpdatedAt    time.Time
	Consultation Consultation
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Create persists a new appointment. It returns ErrSlotTaken when another
	// non-cancelled appointment already holds the slot.
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)

	// FindActiveAtSlot returns the non-cancelled appointment at the slot, or
	// ErrAppointmentNotFound.
	FindActiveAtSlot(ctx context.Context, tenantID, doctorID uuid.UUID, scheduledAt time.Time) (*Appointment, error)

	UpdateStatus(ctx context.Context, upd StatusUpdate) (*Appointment, error)
	// UpdateConsultation returns ErrStatusChanged when the row moved on since
	// it was read.
	UpdateConsultation(ctx context.Context, edit ConsultationEdit) (*Appointment, error)

	ListByDoctor(ctx context.Context, tenantID, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// FindExpiredPending lists pending-payment appointments created before
	// cutoff, across tenants.
	FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
}
