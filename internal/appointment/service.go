package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/slotlock"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

var (
	ErrNotInFuture        = apperr.InvalidInput("scheduled_in_past", "scheduled time must be in the future")
	ErrInvalidRequest     = apperr.InvalidInput("invalid_booking", "invalid booking request")
	ErrBookForOthers      = apperr.Forbidden("not_owner", "patients may only book for themselves")
	ErrPaymentUnavailable = apperr.Unavailable("payment_unavailable", "payment service unavailable", nil)
)

// SlotReleaseHook is told about slots freed by cancellation. It must not
// fail the cancellation; implementations log their own errors.
type SlotReleaseHook interface {
	SlotReleased(ctx context.Context, slot FreedSlot)
}

type Options struct {
	LockTTL       time.Duration
	PaymentWindow time.Duration
	Payments      PaymentGateway
	Directory     Directory
	OnSlotRelease SlotReleaseHook
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

type Service struct {
	repo      Repository
	locks     *slotlock.Manager
	emitter   events.Emitter
	payments  PaymentGateway
	directory Directory
	hook      SlotReleaseHook
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	lockTTL       time.Duration
	paymentWindow time.Duration
}

func NewService(repo Repository, locks *slotlock.Manager, emitter events.Emitter, opts Options) *Service {
	if repo == nil || locks == nil || emitter == nil {
		panic("appointment: repository, lock manager and emitter are required")
	}
	s := &Service{
		repo:          repo,
		locks:         locks,
		emitter:       emitter,
		payments:      opts.Payments,
		directory:     opts.Directory,
		hook:          opts.OnSlotRelease,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		tracer:        otel.Tracer("clinic/appointment"),
		now:           opts.Now,
		lockTTL:       opts.LockTTL,
		paymentWindow: opts.PaymentWindow,
	}
	if s.payments == nil {
		s.payments = FreeOfCharge{}
	}
	if s.directory == nil {
		s.directory = StaticDirectory{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 15 * time.Minute
	}
	if s.paymentWindow <= 0 {
		s.paymentWindow = 15 * time.Minute
	}
	return s
}

type BookingRequest struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	ClinicID    *uuid.UUID
	ScheduledAt time.Time
	Mode        Mode
}

// Book reserves a slot. Concurrent attempts at the same (tenant, doctor,
// scheduledAt) are serialised by the slot lock and re-checked against
// storage under it; at most one succeeds, the rest get ErrSlotTaken.
func (s *Service) Book(ctx context.Context, caller tenancy.Caller, req BookingRequest) (*Appointment, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "appointment.Book", trace.WithAttributes(
		attribute.String("tenant_id", caller.TenantID.String()),
		attribute.String("doctor_id", req.DoctorID.String()),
	))
	defer span.End()

	appt, patient, doctor, err := s.book(ctx, caller, req)
	s.metrics.ObserveBooking(bookingResult(err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("appointment_id", appt.ID.String()))
	s.logger.Info().
		Str("tenant_id", appt.TenantID.String()).
		Str("appointment_id", appt.ID.String()).
		Str("status", string(appt.Status)).
		Msg("appointment booked")
	s.emitter.Emit(ctx, consultationEvent(events.TypeAppointmentBooked, *appt, "", patient, doctor, s.now()))
	return appt, nil
}

func (s *Service) book(ctx context.Context, caller tenancy.Caller, req BookingRequest) (*Appointment, events.Contact, events.Contact, error) {
	var patient, doctor events.Contact
	if err := caller.Validate(); err != nil {
		return nil, patient, doctor, err
	}

	if req.PatientID == uuid.Nil && caller.Role == tenancy.RolePatient {
		req.PatientID = caller.UserID
	}
	if req.Mode == "" {
		req.Mode = ModeInPerson
	}
	switch {
	case req.PatientID == uuid.Nil:
		return nil, patient, doctor, ErrInvalidRequest.Withf("patient_id is required")
	case req.DoctorID == uuid.Nil:
		return nil, patient, doctor, ErrInvalidRequest.Withf("doctor_id is required")
	case !req.Mode.Valid():
		return nil, patient, doctor, ErrInvalidRequest.Withf("unknown consultation mode %q", req.Mode)
	}
	if caller.Role == tenancy.RolePatient && req.PatientID != caller.UserID {
		return nil, patient, doctor, ErrBookForOthers
	}

	req.ScheduledAt = req.ScheduledAt.UTC()
	if !req.ScheduledAt.After(s.now()) {
		return nil, patient, doctor, ErrNotInFuture
	}

	var err error
	if patient, err = s.contact(ctx, s.directory.Patient, caller.TenantID, req.PatientID); err != nil {
		return nil, patient, doctor, err
	}
	if doctor, err = s.contact(ctx, s.directory.Doctor, caller.TenantID, req.DoctorID); err != nil {
		return nil, patient, doctor, err
	}

	key := slotlock.SlotKey{
		TenantID:    caller.TenantID,
		DoctorID:    req.DoctorID,
		ScheduledAt: req.ScheduledAt,
		ClinicID:    req.ClinicID,
	}

	var created *Appointment
	err = s.locks.WithLock(ctx, key.String(), s.lockTTL, func(lockCtx context.Context) error {
		// The lock narrows the race; storage is the final word.
		existing, err := s.repo.FindActiveAtSlot(lockCtx, caller.TenantID, req.DoctorID, req.ScheduledAt)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		quote, err := s.payments.Quote(lockCtx, caller, req)
		if err != nil {
			return ErrPaymentUnavailable.Wrap(err)
		}

		appt := Appointment{
			TenantID:    caller.TenantID,
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			ClinicID:    req.ClinicID,
			ScheduledAt: req.ScheduledAt,
			Mode:        req.Mode,
			Status:      StatusConfirmed,
		}
		if quote.Required {
			appt.Status = StatusPendingPayment
			appt.Payment = &Payment{Reference: quote.Reference, Status: PaymentPending}
		}

		created, err = s.repo.Create(lockCtx, appt)
		return err
	})
	if err != nil {
		if errors.Is(err, slotlock.ErrNotAcquired) {
			return nil, patient, doctor, ErrSlotTaken
		}
		return nil, patient, doctor, err
	}
	return created, patient, doctor, nil
}

// contact resolves a snapshot. Unknown ids are rejected; other lookup
// failures degrade to an id-only snapshot.
func (s *Service) contact(ctx context.Context, lookup func(context.Context, uuid.UUID, uuid.UUID) (events.Contact, error), tenantID, id uuid.UUID) (events.Contact, error) {
	c, err := lookup(ctx, tenantID, id)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return events.Contact{}, err
	}
	s.logger.Warn().Err(err).Str("tenant_id", tenantID.String()).Str("contact_id", id.String()).
		Msg("contact lookup failed, using partial snapshot")
	return events.Contact{ID: id}, nil
}

func bookingResult(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	default:
		if kind, ok := apperr.KindOf(err); ok {
			return string(kind)
		}
		return "error"
	}
}

func (s *Service) Get(ctx context.Context, caller tenancy.Caller, id uuid.UUID) (*Appointment, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	appt, err := s.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, *appt) {
		// Same answer as a missing record so ids cannot be probed.
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

const maxListWindow = 31 * 24 * time.Hour

// ListByDoctor returns the doctor's appointments scheduled in [from, to).
func (s *Service) ListByDoctor(ctx context.Context, caller tenancy.Caller, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsStaff() {
		return nil, apperr.ErrForbidden.Withf("only staff may list a doctor's schedule")
	}
	if caller.Role == tenancy.RoleDoctor && doctorID != caller.UserID {
		return nil, apperr.ErrForbidden.Withf("doctors may only list their own schedule")
	}
	if from.IsZero() {
		from = s.now().Add(-24 * time.Hour)
	}
	if to.IsZero() {
		to = from.Add(7 * 24 * time.Hour)
	}
	if !to.After(from) || to.Sub(from) > maxListWindow {
		return nil, ErrInvalidRequest.Withf("list window must be positive and at most 31 days")
	}
	return s.repo.ListByDoctor(ctx, caller.TenantID, doctorID, from, to)
}

func (s *Service) ListByPatient(ctx context.Context, caller tenancy.Caller, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if caller.Role == tenancy.RolePatient && patientID != caller.UserID {
		return nil, apperr.ErrForbidden.Withf("patients may only list their own appointments")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, caller.TenantID, patientID, limit, offset)
}

func canView(caller tenancy.Caller, a Appointment) bool {
	switch caller.Role {
	case tenancy.RolePatient:
		return a.PatientID == caller.UserID
	case tenancy.RoleDoctor:
		return a.DoctorID == caller.UserID
	default:
		return caller.IsAdmin()
	}
}

func consultationEvent(t events.Type, a Appointment, previous Status, patient, doctor events.Contact, now time.Time) events.ConsultationEvent {
	if patient.ID == uuid.Nil {
		patient.ID = a.PatientID
	}
	if doctor.ID == uuid.Nil {
		doctor.ID = a.DoctorID
	}
	return events.ConsultationEvent{
		Type:           t,
		TenantID:       a.TenantID,
		AppointmentID:  a.ID,
		ClinicID:       a.ClinicID,
		ScheduledAt:    a.ScheduledAt,
		Mode:           string(a.Mode),
		Status:         string(a.Status),
		PreviousStatus: string(previous),
		Patient:        patient,
		Doctor:         doctor,
		OccurredAt:     now.UTC(),
	}
}
