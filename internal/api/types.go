package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

type BookAppointmentRequest struct {
	PatientID   string    `json:"patient_id"`
	DoctorID    string    `json:"doctor_id"`
	ClinicID    string    `json:"clinic_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Mode        string    `json:"mode"`
}

type AppointmentResponse struct {
	ID           uuid.UUID                 `json:"id"`
	PatientID    uuid.UUID                 `json:"patient_id"`
	DoctorID     uuid.UUID                 `json:"doctor_id"`
	ClinicID     *uuid.UUID                `json:"clinic_id,omitempty"`
	ScheduledAt  time.Time                 `json:"scheduled_at"`
	Mode         string                    `json:"mode"`
	Status       string                    `json:"status"`
	Payment      *appointment.Payment      `json:"payment,omitempty"`
	Consultation *appointment.Consultation `json:"consultation,omitempty"`
	CancelReason string                    `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		ClinicID:     a.ClinicID,
		ScheduledAt:  a.ScheduledAt,
		Mode:         string(a.Mode),
		Status:       string(a.Status),
		Payment:      a.Payment,
		Consultation: a.Consultation,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(list))
	for i, a := range list {
		out[i] = toAppointmentResponse(a)
	}
	return out
}

// AppointmentStatusRequest moves an appointment. PaymentReference is only
// read when confirming a pending-payment appointment.
type AppointmentStatusRequest struct {
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

type ConsultationRequest struct {
	Notes         *string                    `json:"notes,omitempty"`
	FollowUps     []appointment.FollowUp     `json:"follow_ups,omitempty"`
	Attachments   []string                   `json:"attachments,omitempty"`
	Vitals        map[string]string          `json:"vitals,omitempty"`
	Prescriptions []appointment.Prescription `json:"prescriptions,omitempty"`
	Referrals     []string                   `json:"referrals,omitempty"`
}

type EnqueueRequest struct {
	PatientID       string            `json:"patient_id,omitempty"`
	ClinicID        string            `json:"clinic_id,omitempty"`
	DoctorID        string            `json:"doctor_id,omitempty"`
	RequestedWindow waitlist.Window   `json:"requested_window"`
	Notes           string            `json:"notes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type AuditResponse struct {
	Action string    `json:"action"`
	Actor  uuid.UUID `json:"actor"`
	Role   string    `json:"role"`
	At     time.Time `json:"at"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Note   string    `json:"note,omitempty"`
}

type EntryResponse struct {
	ID              uuid.UUID         `json:"id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	ClinicID        *uuid.UUID        `json:"clinic_id,omitempty"`
	DoctorID        *uuid.UUID        `json:"doctor_id,omitempty"`
	Status          string            `json:"status"`
	PriorityScore   float64           `json:"priority_score"`
	RequestedWindow waitlist.Window   `json:"requested_window"`
	Notes           string            `json:"notes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	AppointmentID   *uuid.UUID        `json:"appointment_id,omitempty"`
	Audit           []AuditResponse   `json:"audit"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toEntryResponse(e waitlist.Entry) EntryResponse {
	audit := make([]AuditResponse, len(e.Audit))
	for i, a := range e.Audit {
		audit[i] = AuditResponse{
			Action: string(a.Action),
			Actor:  a.Actor,
			Role:   a.Role,
			At:     a.At,
			From:   string(a.From),
			To:     string(a.To),
			Note:   a.Note,
		}
	}
	return EntryResponse{
		ID:              e.ID,
		PatientID:       e.PatientID,
		ClinicID:        e.ClinicID,
		DoctorID:        e.DoctorID,
		Status:          string(e.Status),
		PriorityScore:   e.PriorityScore,
		RequestedWindow: e.RequestedWindow,
		Notes:           e.Notes,
		Metadata:        e.Metadata,
		ExpiresAt:       e.ExpiresAt,
		AppointmentID:   e.AppointmentID,
		Audit:           audit,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toEntryList(list []waitlist.Entry) []EntryResponse {
	out := make([]EntryResponse, len(list))
	for i, e := range list {
		out[i] = toEntryResponse(e)
	}
	return out
}

type WaitlistStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type PromoteRequest struct {
	AppointmentID string `json:"appointment_id"`
	Note          string `json:"note,omitempty"`
}

type PriorityRequest struct {
	PriorityScore *float64 `json:"priority_score"`
	Note          string   `json:"note,omitempty"`
}

type BulkStatusRequest struct {
	IDs    []uuid.UUID `json:"ids"`
	Status string      `json:"status"`
	Note   string      `json:"note,omitempty"`
}

type BulkStatusResponse struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
}

type SweepResponse struct {
	Expired int `json:"expired"`
}

type CountResponse struct {
	Open int `json:"open"`
}

type PolicyPayload struct {
	ClinicID                 *uuid.UUID               `json:"clinic_id,omitempty"`
	MaxQueueSize             int                      `json:"max_queue_size"`
	AutoExpiryHours          int                      `json:"auto_expiry_hours"`
	AutoPromoteBufferMinutes int                      `json:"auto_promote_buffer_minutes"`
	Weights                  waitlist.PriorityWeights `json:"weights"`
	UpdatedAt                *time.Time               `json:"updated_at,omitempty"`
}

func toPolicyPayload(p waitlist.Policy) PolicyPayload {
	out := PolicyPayload{
		ClinicID:                 p.ClinicID,
		MaxQueueSize:             p.MaxQueueSize,
		AutoExpiryHours:          p.AutoExpiryHours,
		AutoPromoteBufferMinutes: p.AutoPromoteBufferMinutes,
		Weights:                  p.Weights,
	}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
