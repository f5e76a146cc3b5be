package changefeed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/tenancy"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

type AppointmentLister interface {
	ListByDoctor(ctx context.Context, caller tenancy.Caller, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type WaitlistLister interface {
	List(ctx context.Context, caller tenancy.Caller, f waitlist.ListFilter) ([]waitlist.Entry, error)
}

type appointmentFields struct {
	Status       appointment.Status        `json:"status"`
	ScheduledAt  time.Time                 `json:"scheduled_at"`
	Mode         appointment.Mode          `json:"mode"`
	ClinicID     *uuid.UUID                `json:"clinic_id"`
	Payment      *appointment.Payment      `json:"payment"`
	Consultation *appointment.Consultation `json:"consultation"`
	CancelReason string                    `json:"cancel_reason"`
}

func appointmentItem(a appointment.Appointment, render func(appointment.Appointment) any) (Item, error) {
	var payload any = a
	if render != nil {
		payload = render(a)
	}
	return NewItem(a.ID, string(a.Status), appointmentFields{
		Status:       a.Status,
		ScheduledAt:  a.ScheduledAt.UTC(),
		Mode:         a.Mode,
		ClinicID:     a.ClinicID,
		Payment:      a.Payment,
		Consultation: a.Consultation,
		CancelReason: a.CancelReason,
	}, payload)
}

// AppointmentSource follows a doctor's schedule over the service's default
// window, which moves with the clock. render shapes the event payload; nil
// sends the appointment as is.
func AppointmentSource(svc AppointmentLister, caller tenancy.Caller, doctorID uuid.UUID, render func(appointment.Appointment) any) Source {
	return SourceFunc(func(ctx context.Context) ([]Item, error) {
		list, err := svc.ListByDoctor(ctx, caller, doctorID, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(list))
		for _, a := range list {
			it, err := appointmentItem(a, render)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		return items, nil
	})
}

type entryFields struct {
	Status          waitlist.Status   `json:"status"`
	PriorityScore   float64           `json:"priority_score"`
	RequestedWindow waitlist.Window   `json:"requested_window"`
	Notes           string            `json:"notes"`
	Metadata        map[string]string `json:"metadata"`
	ExpiresAt       *time.Time        `json:"expires_at"`
	AppointmentID   *uuid.UUID        `json:"appointment_id"`
	AuditLen        int               `json:"audit_len"`
}

func entryItem(e waitlist.Entry, render func(waitlist.Entry) any) (Item, error) {
	var payload any = e
	if render != nil {
		payload = render(e)
	}
	return NewItem(e.ID, string(e.Status), entryFields{
		Status:          e.Status,
		PriorityScore:   e.PriorityScore,
		RequestedWindow: e.RequestedWindow,
		Notes:           e.Notes,
		Metadata:        e.Metadata,
		ExpiresAt:       e.ExpiresAt,
		AppointmentID:   e.AppointmentID,
		AuditLen:        len(e.Audit),
	}, payload)
}

// WaitlistSource follows a scope's open queue. Entries that close drop out
// of the result set and surface as removed.
func WaitlistSource(engine WaitlistLister, caller tenancy.Caller, clinicID, doctorID *uuid.UUID, render func(waitlist.Entry) any) Source {
	filter := waitlist.ListFilter{
		Scope:    waitlist.Scope{TenantID: caller.TenantID, ClinicID: clinicID, DoctorID: doctorID},
		Statuses: []waitlist.Status{waitlist.StatusActive, waitlist.StatusInvited},
		Limit:    500,
	}
	return SourceFunc(func(ctx context.Context) ([]Item, error) {
		list, err := engine.List(ctx, caller, filter)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(list))
		for _, e := range list {
			it, err := entryItem(e, render)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		return items, nil
	})
}
