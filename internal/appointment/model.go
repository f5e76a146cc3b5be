package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment Status = "pending-payment"
	StatusConfirmed      Status = "confirmed"
	StatusCheckedIn      Status = "checked-in"
	StatusInSession      Status = "in-session"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no-show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusCheckedIn, StatusInSession,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// ConsultationEditable reports whether clinicians may edit the consultation.
func (s Status) ConsultationEditable() bool {
	return s == StatusCheckedIn || s == StatusInSession || s == StatusCompleted
}

type Mode string

const (
	ModeInPerson  Mode = "in-person"
	ModeRemote    Mode = "remote"
	ModeHomeVisit Mode = "home-visit"
)

func (m Mode) Valid() bool {
	return m == ModeInPerson || m == ModeRemote || m == ModeHomeVisit
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentCaptured PaymentStatus = "captured"
	PaymentVoided   PaymentStatus = "voided"
)

// Payment is the opaque reference handed back by the payment service.
type Payment struct {
	Reference  string        `json:"reference"`
	Status     PaymentStatus `json:"status"`
	CapturedAt *time.Time    `json:"captured_at,omitempty"`
}

type Prescription struct {
	Drug      string `json:"drug"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type FollowUp struct {
	DueAt time.Time `json:"due_at"`
	Note  string    `json:"note,omitempty"`
}

// Consultation is the clinical sub-record. Stored as jsonb.
type Consultation struct {
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	FollowUps     []FollowUp        `json:"follow_ups,omitempty"`
	Attachments   []string          `json:"attachments,omitempty"`
	Vitals        map[string]string `json:"vitals,omitempty"`
	Prescriptions []Prescription    `json:"prescriptions,omitempty"`
	Referrals     []string          `json:"referrals,omitempty"`
	LastEditor    *uuid.UUID        `json:"last_editor,omitempty"`
	EditedAt      *time.Time        `json:"edited_at,omitempty"`
}

type Appointment struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	ClinicID     *uuid.UUID
	ScheduledAt  time.Time
	Mode         Mode
	Status       Status
	Payment      *Payment
	Consultation *Consultation
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FreedSlot describes a slot that became bookable again after a cancellation.
type FreedSlot struct {
	TenantID      uuid.UUID
	DoctorID      uuid.UUID
	ClinicID      *uuid.UUID
	ScheduledAt   time.Time
	AppointmentID uuid.UUID
}

func (a Appointment) freedSlot() FreedSlot {
	return FreedSlot{
		TenantID:      a.TenantID,
		DoctorID:      a.DoctorID,
		ClinicID:      a.ClinicID,
		ScheduledAt:   a.ScheduledAt,
		AppointmentID: a.ID,
	}
}

func (c *Consultation) clone() *Consultation {
	if c == nil {
		return &Consultation{}
	}
	cp := *c
	return &cp
}
