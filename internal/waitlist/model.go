// Package waitlist manages per-scope patient queues: admission against a
// capacity policy, priority ordering, invitation when a slot frees up,
// promotion to an appointment and time-based expiry.
package waitlist

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInvited   Status = "invited"
	StatusPromoted  Status = "promoted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInvited, StatusPromoted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusPromoted || s == StatusExpired || s == StatusCancelled
}

// Open statuses count against capacity and block duplicate entries.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusInvited
}

type Action string

const (
	ActionCreated        Action = "created"
	ActionStatusChange   Action = "status-change"
	ActionPromotion      Action = "promotion"
	ActionPriorityChange Action = "priority-change"
	ActionExpiry         Action = "expiry"
)

// AuditEntry is one append-only log record on an entry.
type AuditEntry struct {
	Action Action    `json:"action"`
	Actor  uuid.UUID `json:"actor"`
	Role   string    `json:"role"`
	At     time.Time `json:"at"`
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// Scope is the queue an entry belongs to. Nil clinic or doctor widens the
// queue; scopes are matched exactly, not hierarchically.
type Scope struct {
	TenantID uuid.UUID
	ClinicID *uuid.UUID
	DoctorID *uuid.UUID
}

func (s Scope) String() string {
	clinic, doctor := "-", "-"
	if s.ClinicID != nil {
		clinic = s.ClinicID.String()
	}
	if s.DoctorID != nil {
		doctor = s.DoctorID.String()
	}
	return fmt.Sprintf("%s/%s/%s", s.TenantID, clinic, doctor)
}

type Window struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type Entry struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	PatientID       uuid.UUID
	ClinicID        *uuid.UUID
	DoctorID        *uuid.UUID
	Status          Status
	PriorityScore   float64
	RequestedWindow Window
	Notes           string
	Metadata        map[string]string
	ExpiresAt       *time.Time
	AppointmentID   *uuid.UUID
	Audit           []AuditEntry
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Overdue reports whether an open entry's expiry has passed. Such an entry is
// expired whether or not a sweep has run yet.
func (e Entry) Overdue(now time.Time) bool {
	return e.Status.Open() && e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

func (e Entry) Scope() Scope {
	return Scope{TenantID: e.TenantID, ClinicID: e.ClinicID, DoctorID: e.DoctorID}
}

// Transitioned pairs an updated entry with the status it left.
type Transitioned struct {
	Entry    Entry
	Previous Status
}

type BulkResult struct {
	Matched  int
	Modified int
	Changed  []Transitioned
}
