package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

var (
	ErrInvalidTransition = apperr.Conflict("invalid_transition", "status transition not allowed")
	ErrPatientTransition = apperr.Forbidden("patient_transition", "patients may only cancel their own appointments")
	ErrNotYourRecord     = apperr.Forbidden("not_owner", "appointment belongs to another doctor")
	ErrConsultationState = apperr.Conflict("consultation_closed", "consultation can only be edited once the patient has checked in")
)

var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:      {StatusInSession, StatusCancelled, StatusNoShow},
	StatusInSession:      {StatusCompleted, StatusCancelled, StatusNoShow},
}

// notifyTypes maps statuses whose entry is reported downstream.
var notifyTypes = map[Status]events.Type{
	StatusCheckedIn: events.TypeAppointmentCheckedIn,
	StatusInSession: events.TypeAppointmentInSession,
	StatusCompleted: events.TypeAppointmentCompleted,
	StatusNoShow:    events.TypeAppointmentNoShow,
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyTransition returns the consultation record as it must look after
// entering to. It never overwrites a timestamp that is already set.
func applyTransition(a Appointment, to Status, now time.Time) *Consultation {
	c := a.Consultation.clone()
	switch to {
	case StatusCheckedIn, StatusInSession:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StatusCompleted:
		if c.StartedAt == nil {
			started := a.ScheduledAt
			c.StartedAt = &started
		}
		if c.EndedAt == nil {
			c.EndedAt = &now
		}
	case StatusNoShow:
		if c.EndedAt == nil {
			c.EndedAt = &now
		}
	default:
		return nil
	}
	return c
}

func authorizeTransition(caller tenancy.Caller, a Appointment, to Status) error {
	switch caller.Role {
	case tenancy.RolePatient:
		if to != StatusCancelled || a.PatientID != caller.UserID {
			return ErrPatientTransition
		}
		return nil
	case tenancy.RoleDoctor:
		if a.DoctorID != caller.UserID {
			return ErrNotYourRecord
		}
		if to == StatusConfirmed {
			return apperr.ErrForbidden.Withf("payment confirmation requires admin or system")
		}
		return nil
	case tenancy.RoleAdmin, tenancy.RoleSystem:
		return nil
	}
	return apperr.ErrForbidden
}

// Transition moves an appointment to status to. Moving to the current
// status is a no-op that emits nothing.
func (s *Service) Transition(ctx context.Context, caller tenancy.Caller, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	return s.transition(ctx, caller, id, to, func(upd *StatusUpdate, _ Appointment) {
		if to == StatusCancelled {
			upd.CancelReason = reason
		}
	})
}

// ConfirmPayment is the payment callback: pending-payment to confirmed with
// the intent marked captured.
func (s *Service) ConfirmPayment(ctx context.Context, caller tenancy.Caller, id uuid.UUID, reference string) (*Appointment, error) {
	return s.transition(ctx, caller, id, StatusConfirmed, func(upd *StatusUpdate, current Appointment) {
		now := s.now().UTC()
		p := Payment{Reference: reference, Status: PaymentCaptured, CapturedAt: &now}
		if current.Payment != nil && reference == "" {
			p.Reference = current.Payment.Reference
		}
		upd.Payment = &p
	})
}

func (s *Service) transition(ctx context.Context, caller tenancy.Caller, id uuid.UUID, to Status, decorate func(*StatusUpdate, Appointment)) (*Appointment, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, ErrInvalidTransition.Withf("unknown status %q", to)
	}

	current, err := s.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeTransition(caller, *current, to); err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if !CanTransition(current.Status, to) {
		return nil, ErrInvalidTransition.Withf("cannot move appointment from %s to %s", current.Status, to)
	}

	upd := StatusUpdate{
		TenantID:     current.TenantID,
		ID:           current.ID,
		From:         current.Status,
		To:           to,
		Consultation: applyTransition(*current, to, s.now().UTC()),
	}
	if to == StatusCancelled && current.Payment != nil && current.Payment.Status == PaymentPending {
		voided := *current.Payment
		voided.Status = PaymentVoided
		upd.Payment = &voided
	}
	if decorate != nil {
		decorate(&upd, *current)
	}

	updated, err := s.repo.UpdateStatus(ctx, upd)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, *updated, current.Status)
	return updated, nil
}

func (s *Service) afterTransition(ctx context.Context, a Appointment, previous Status) {
	s.metrics.ObserveTransition(string(previous), string(a.Status))
	s.logger.Info().
		Str("tenant_id", a.TenantID.String()).
		Str("appointment_id", a.ID.String()).
		Str("from", string(previous)).
		Str("to", string(a.Status)).
		Msg("appointment status changed")

	if t, ok := notifyTypes[a.Status]; ok && a.Status != previous {
		patient, _ := s.contact(ctx, s.directory.Patient, a.TenantID, a.PatientID)
		doctor, _ := s.contact(ctx, s.directory.Doctor, a.TenantID, a.DoctorID)
		s.emitter.Emit(ctx, consultationEvent(t, a, previous, patient, doctor, s.now()))
	}

	if a.Status == StatusCancelled && s.hook != nil {
		s.hook.SlotReleased(ctx, a.freedSlot())
	}
}

// ConsultationUpdate carries the fields a clinician may edit. Nil fields are
// left untouched.
type ConsultationUpdate struct {
	Notes         *string
	FollowUps     []FollowUp
	Attachments   []string
	Vitals        map[string]string
	Prescriptions []Prescription
	Referrals     []string
}

func (s *Service) UpdateConsultation(ctx context.Context, caller tenancy.Caller, id uuid.UUID, upd ConsultationUpdate) (*Appointment, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsStaff() {
		return nil, apperr.ErrForbidden.Withf("only staff may edit consultations")
	}
	current, err := s.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if caller.Role == tenancy.RoleDoctor && current.DoctorID != caller.UserID {
		return nil, ErrNotYourRecord
	}
	if !current.Status.ConsultationEditable() {
		return nil, ErrConsultationState
	}

	c := current.Consultation.clone()
	if upd.Notes != nil {
		c.Notes = *upd.Notes
	}
	if upd.FollowUps != nil {
		c.FollowUps = upd.FollowUps
	}
	if upd.Attachments != nil {
		c.Attachments = upd.Attachments
	}
	if upd.Vitals != nil {
		c.Vitals = upd.Vitals
	}
	if upd.Prescriptions != nil {
		c.Prescriptions = upd.Prescriptions
	}
	if upd.Referrals != nil {
		c.Referrals = upd.Referrals
	}
	editor := caller.UserID
	now := s.now().UTC()
	c.LastEditor = &editor
	c.EditedAt = &now

	return s.repo.UpdateConsultation(ctx, ConsultationEdit{
		TenantID:     caller.TenantID,
		ID:           id,
		Status:       current.Status,
		UpdatedAt:    current.UpdatedAt,
		Consultation: *c,
	})
}

const expireBatch = 500

// ExpireUnpaid cancels pending-payment appointments older than the payment
// window, freeing their slots. Intended to be called by the worker.
func (s *Service) ExpireUnpaid(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.paymentWindow)
	candidates, err := s.repo.FindExpiredPending(ctx, cutoff, expireBatch)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}

	expired := 0
	for _, appt := range candidates {
		upd := StatusUpdate{
			TenantID:     appt.TenantID,
			ID:           appt.ID,
			From:         StatusPendingPayment,
			To:           StatusCancelled,
			CancelReason: "payment_timeout",
		}
		if appt.Payment != nil {
			voided := *appt.Payment
			voided.Status = PaymentVoided
			upd.Payment = &voided
		}
		updated, err := s.repo.UpdateStatus(ctx, upd)
		if err != nil {
			if !errors.Is(err, ErrStatusChanged) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire unpaid appointment")
			}
			continue
		}
		expired++
		s.afterTransition(ctx, *updated, StatusPendingPayment)
	}

	s.metrics.ObserveSweep("payment_timeout", expired)
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("unpaid appointments cancelled")
	}
	return expired, nil
}
