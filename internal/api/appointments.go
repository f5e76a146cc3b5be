package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

type AppointmentService interface {
	Book(ctx context.Context, caller tenancy.Caller, req appointment.BookingRequest) (*appointment.Appointment, error)
	Get(ctx context.Context, caller tenancy.Caller, id uuid.UUID) (*appointment.Appointment, error)
	ListByDoctor(ctx context.Context, caller tenancy.Caller, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
	ListByPatient(ctx context.Context, caller tenancy.Caller, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	Transition(ctx context.Context, caller tenancy.Caller, id uuid.UUID, to appointment.Status, reason string) (*appointment.Appointment, error)
	ConfirmPayment(ctx context.Context, caller tenancy.Caller, id uuid.UUID, reference string) (*appointment.Appointment, error)
	UpdateConsultation(ctx context.Context, caller tenancy.Caller, id uuid.UUID, upd appointment.ConsultationUpdate) (*appointment.Appointment, error)
}

type appointmentHandlers struct {
	svc AppointmentService
}

func (h appointmentHandlers) book(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req BookAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var patientID uuid.UUID
	if req.PatientID != "" {
		if patientID, ok = parseUUID(w, req.PatientID, "patient_id"); !ok {
			return
		}
	}
	doctorID, ok := parseUUID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}
	clinicID, ok := parseOptionalUUID(w, req.ClinicID, "clinic_id")
	if !ok {
		return
	}

	appt, err := h.svc.Book(r.Context(), caller, appointment.BookingRequest{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ClinicID:    clinicID,
		ScheduledAt: req.ScheduledAt,
		Mode:        appointment.Mode(req.Mode),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	appt, err := h.svc.Get(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

// list serves a doctor's schedule (doctor_id, from, to) or a patient's
// history (patient_id, limit, offset). A patient with neither gets their own.
func (h appointmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if raw := q.Get("doctor_id"); raw != "" {
		doctorID, ok := parseUUID(w, raw, "doctor_id")
		if !ok {
			return
		}
		from, ok := parseTime(w, q.Get("from"), "from")
		if !ok {
			return
		}
		to, ok := parseTime(w, q.Get("to"), "to")
		if !ok {
			return
		}
		list, err := h.svc.ListByDoctor(r.Context(), caller, doctorID, from, to)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(list))
		return
	}

	patientID := caller.UserID
	if raw := q.Get("patient_id"); raw != "" {
		if patientID, ok = parseUUID(w, raw, "patient_id"); !ok {
			return
		}
	} else if caller.Role != tenancy.RolePatient {
		writeError(w, http.StatusBadRequest, "missing_filter", "doctor_id or patient_id is required")
		return
	}
	limit, ok := parseInt(w, q.Get("limit"), "limit", 50)
	if !ok {
		return
	}
	offset, ok := parseInt(w, q.Get("offset"), "offset", 0)
	if !ok {
		return
	}
	list, err := h.svc.ListByPatient(r.Context(), caller, patientID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h appointmentHandlers) transition(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req AppointmentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	to := appointment.Status(req.Status)
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status")
		return
	}

	var appt *appointment.Appointment
	var err error
	if to == appointment.StatusConfirmed && req.PaymentReference != "" {
		appt, err = h.svc.ConfirmPayment(r.Context(), caller, id, req.PaymentReference)
	} else {
		appt, err = h.svc.Transition(r.Context(), caller, id, to, req.Reason)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h appointmentHandlers) consultation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req ConsultationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	appt, err := h.svc.UpdateConsultation(r.Context(), caller, id, appointment.ConsultationUpdate{
		Notes:         req.Notes,
		FollowUps:     req.FollowUps,
		Attachments:   req.Attachments,
		Vitals:        req.Vitals,
		Prescriptions: req.Prescriptions,
		Referrals:     req.Referrals,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}
