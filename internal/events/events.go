// Package events defines the domain events handed to the notification
// pipeline and the publishers that carry them. The event set is closed:
// only the families declared here satisfy Event.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointmentBooked    Type = "appointment.booked"
	TypeAppointmentCheckedIn Type = "appointment.checked_in"
	TypeAppointmentInSession Type = "appointment.in_session"
	TypeAppointmentCompleted Type = "appointment.completed"
	TypeAppointmentNoShow    Type = "appointment.no_show"

	TypeWaitlistJoined    Type = "waitlist.joined"
	TypeWaitlistInvited   Type = "waitlist.invited"
	TypeWaitlistCancelled Type = "waitlist.cancelled"
	TypeWaitlistExpired   Type = "waitlist.expired"
	TypeWaitlistPromoted  Type = "waitlist.promoted"
)

var consultationTypes = map[Type]bool{
	TypeAppointmentBooked:    true,
	TypeAppointmentCheckedIn: true,
	TypeAppointmentInSession: true,
	TypeAppointmentCompleted: true,
	TypeAppointmentNoShow:    true,
}

var waitlistTypes = map[Type]bool{
	TypeWaitlistJoined:    true,
	TypeWaitlistInvited:   true,
	TypeWaitlistCancelled: true,
	TypeWaitlistExpired:   true,
	TypeWaitlistPromoted:  true,
}

// Event is implemented by ConsultationEvent and WaitlistEvent only.
type Event interface {
	EventType() Type
	Tenant() uuid.UUID
	sealed()
}

// Contact is the denormalized snapshot notification workers render from.
type Contact struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	NotifyEmail    bool      `json:"notify_email"`
	NotifySMS      bool      `json:"notify_sms"`
	NotifyWhatsApp bool      `json:"notify_whatsapp"`
}

// ConsultationEvent reports appointment lifecycle changes.
type ConsultationEvent struct {
	Type           Type       `json:"type"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	ClinicID       *uuid.UUID `json:"clinic_id,omitempty"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Patient        Contact    `json:"patient"`
	Doctor         Contact    `json:"doctor"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

func (e ConsultationEvent) EventType() Type   { return e.Type }
func (e ConsultationEvent) Tenant() uuid.UUID { return e.TenantID }
func (ConsultationEvent) sealed()             {}

// WaitlistEvent reports waitlist lifecycle changes.
type WaitlistEvent struct {
	Type           Type       `json:"type"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	EntryID        uuid.UUID  `json:"entry_id"`
	ClinicID       *uuid.UUID `json:"clinic_id,omitempty"`
	DoctorID       *uuid.UUID `json:"doctor_id,omitempty"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	PriorityScore  float64    `json:"priority_score"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	Patient        Contact    `json:"patient"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

func (e WaitlistEvent) EventType() Type   { return e.Type }
func (e WaitlistEvent) Tenant() uuid.UUID { return e.TenantID }
func (WaitlistEvent) sealed()             {}
