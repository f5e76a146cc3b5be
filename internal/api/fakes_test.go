package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/tenancy"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

var errNotStubbed = errors.New("not stubbed")

type fakeAppointments struct {
	book         func(tenancy.Caller, appointment.BookingRequest) (*appointment.Appointment, error)
	get          func(tenancy.Caller, uuid.UUID) (*appointment.Appointment, error)
	listByDoctor func(tenancy.Caller, uuid.UUID, time.Time, time.Time) ([]appointment.Appointment, error)
	transition   func(tenancy.Caller, uuid.UUID, appointment.Status, string) (*appointment.Appointment, error)
	confirm      func(tenancy.Caller, uuid.UUID, string) (*appointment.Appointment, error)
}

func (f *fakeAppointments) Book(_ context.Context, c tenancy.Caller, req appointment.BookingRequest) (*appointment.Appointment, error) {
	if f.book == nil {
		return nil, errNotStubbed
	}
	return f.book(c, req)
}

func (f *fakeAppointments) Get(_ context.Context, c tenancy.Caller, id uuid.UUID) (*appointment.Appointment, error) {
	if f.get == nil {
		return nil, errNotStubbed
	}
	return f.get(c, id)
}

func (f *fakeAppointments) ListByDoctor(_ context.Context, c tenancy.Caller, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	if f.listByDoctor == nil {
		return nil, errNotStubbed
	}
	return f.listByDoctor(c, doctorID, from, to)
}

func (f *fakeAppointments) ListByPatient(context.Context, tenancy.Caller, uuid.UUID, int, int) ([]appointment.Appointment, error) {
	return nil, nil
}

func (f *fakeAppointments) Transition(_ context.Context, c tenancy.Caller, id uuid.UUID, to appointment.Status, reason string) (*appointment.Appointment, error) {
	if f.transition == nil {
		return nil, errNotStubbed
	}
	return f.transition(c, id, to, reason)
}

func (f *fakeAppointments) ConfirmPayment(_ context.Context, c tenancy.Caller, id uuid.UUID, ref string) (*appointment.Appointment, error) {
	if f.confirm == nil {
		return nil, errNotStubbed
	}
	return f.confirm(c, id, ref)
}

func (f *fakeAppointments) UpdateConsultation(context.Context, tenancy.Caller, uuid.UUID, appointment.ConsultationUpdate) (*appointment.Appointment, error) {
	return nil, errNotStubbed
}

type fakeWaitlist struct {
	enqueue func(tenancy.Caller, waitlist.EnqueueRequest) (*waitlist.Entry, error)
	list    func(tenancy.Caller, waitlist.ListFilter) ([]waitlist.Entry, error)
	bulk    func(tenancy.Caller, []uuid.UUID, waitlist.Status) (waitlist.BulkResult, error)
	sweep   func(tenancy.Caller) (int, error)
	promote func(tenancy.Caller, uuid.UUID, uuid.UUID) (*waitlist.Entry, error)
	upsert  func(tenancy.Caller, waitlist.Policy) (*waitlist.Policy, error)
}

func (f *fakeWaitlist) Enqueue(_ context.Context, c tenancy.Caller, req waitlist.EnqueueRequest) (*waitlist.Entry, error) {
	if f.enqueue == nil {
		return nil, errNotStubbed
	}
	return f.enqueue(c, req)
}

func (f *fakeWaitlist) Get(context.Context, tenancy.Caller, uuid.UUID) (*waitlist.Entry, error) {
	return nil, waitlist.ErrEntryNotFound
}

func (f *fakeWaitlist) List(_ context.Context, c tenancy.Caller, filter waitlist.ListFilter) ([]waitlist.Entry, error) {
	if f.list == nil {
		return nil, errNotStubbed
	}
	return f.list(c, filter)
}

func (f *fakeWaitlist) Count(context.Context, tenancy.Caller, waitlist.Scope) (int, error) {
	return 0, nil
}

func (f *fakeWaitlist) UpdateStatus(context.Context, tenancy.Caller, uuid.UUID, waitlist.Status, string) (*waitlist.Entry, error) {
	return nil, errNotStubbed
}

func (f *fakeWaitlist) Promote(_ context.Context, c tenancy.Caller, id, apptID uuid.UUID, _ string) (*waitlist.Entry, error) {
	if f.promote == nil {
		return nil, errNotStubbed
	}
	return f.promote(c, id, apptID)
}

func (f *fakeWaitlist) UpdatePriority(context.Context, tenancy.Caller, uuid.UUID, float64, string) (*waitlist.Entry, error) {
	return nil, errNotStubbed
}

func (f *fakeWaitlist) BulkUpdateStatus(_ context.Context, c tenancy.Caller, ids []uuid.UUID, to waitlist.Status, _ string) (waitlist.BulkResult, error) {
	if f.bulk == nil {
		return waitlist.BulkResult{}, errNotStubbed
	}
	return f.bulk(c, ids, to)
}

func (f *fakeWaitlist) SweepExpired(_ context.Context, c tenancy.Caller) (int, error) {
	if f.sweep == nil {
		return 0, errNotStubbed
	}
	return f.sweep(c)
}

func (f *fakeWaitlist) GetPolicy(_ context.Context, c tenancy.Caller, clinicID *uuid.UUID) (waitlist.Policy, error) {
	return waitlist.DefaultPolicy(c.TenantID, clinicID), nil
}

func (f *fakeWaitlist) UpsertPolicy(_ context.Context, c tenancy.Caller, p waitlist.Policy) (*waitlist.Policy, error) {
	if f.upsert == nil {
		return nil, errNotStubbed
	}
	return f.upsert(c, p)
}
