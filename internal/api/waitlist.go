package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/tenancy"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

type WaitlistService interface {
	Enqueue(ctx context.Context, caller tenancy.Caller, req waitlist.EnqueueRequest) (*waitlist.Entry, error)
	Get(ctx context.Context, caller tenancy.Caller, id uuid.UUID) (*waitlist.Entry, error)
	List(ctx context.Context, caller tenancy.Caller, f waitlist.ListFilter) ([]waitlist.Entry, error)
	Count(ctx context.Context, caller tenancy.Caller, scope waitlist.Scope) (int, error)
	UpdateStatus(ctx context.Context, caller tenancy.Caller, id uuid.UUID, to waitlist.Status, note string) (*waitlist.Entry, error)
	Promote(ctx context.Context, caller tenancy.Caller, id, appointmentID uuid.UUID, note string) (*waitlist.Entry, error)
	UpdatePriority(ctx context.Context, caller tenancy.Caller, id uuid.UUID, score float64, note string) (*waitlist.Entry, error)
	BulkUpdateStatus(ctx context.Context, caller tenancy.Caller, ids []uuid.UUID, to waitlist.Status, note string) (waitlist.BulkResult, error)
	SweepExpired(ctx context.Context, caller tenancy.Caller) (int, error)
	GetPolicy(ctx context.Context, caller tenancy.Caller, clinicID *uuid.UUID) (waitlist.Policy, error)
	UpsertPolicy(ctx context.Context, caller tenancy.Caller, p waitlist.Policy) (*waitlist.Policy, error)
}

type waitlistHandlers struct {
	svc WaitlistService
}

func (h waitlistHandlers) enqueue(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req EnqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var patientID uuid.UUID
	if req.PatientID != "" {
		if patientID, ok = parseUUID(w, req.PatientID, "patient_id"); !ok {
			return
		}
	}
	clinicID, ok := parseOptionalUUID(w, req.ClinicID, "clinic_id")
	if !ok {
		return
	}
	doctorID, ok := parseOptionalUUID(w, req.DoctorID, "doctor_id")
	if !ok {
		return
	}

	entry, err := h.svc.Enqueue(r.Context(), caller, waitlist.EnqueueRequest{
		PatientID:       patientID,
		ClinicID:        clinicID,
		DoctorID:        doctorID,
		RequestedWindow: req.RequestedWindow,
		Notes:           req.Notes,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryResponse(*entry))
}

func scopeFromQuery(w http.ResponseWriter, r *http.Request) (waitlist.Scope, bool) {
	q := r.URL.Query()
	clinicID, ok := parseOptionalUUID(w, q.Get("clinic_id"), "clinic_id")
	if !ok {
		return waitlist.Scope{}, false
	}
	doctorID, ok := parseOptionalUUID(w, q.Get("doctor_id"), "doctor_id")
	if !ok {
		return waitlist.Scope{}, false
	}
	return waitlist.Scope{ClinicID: clinicID, DoctorID: doctorID}, true
}

func (h waitlistHandlers) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var statuses []waitlist.Status
	for _, s := range q["status"] {
		statuses = append(statuses, waitlist.Status(s))
	}
	limit, ok := parseInt(w, q.Get("limit"), "limit", 100)
	if !ok {
		return
	}
	offset, ok := parseInt(w, q.Get("offset"), "offset", 0)
	if !ok {
		return
	}

	list, err := h.svc.List(r.Context(), caller, waitlist.ListFilter{
		Scope:    scope,
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryList(list))
}

func (h waitlistHandlers) count(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	n, err := h.svc.Count(r.Context(), caller, scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Open: n})
}

func (h waitlistHandlers) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	entry, err := h.svc.Get(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

func (h waitlistHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req WaitlistStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.svc.UpdateStatus(r.Context(), caller, id, waitlist.Status(req.Status), req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

func (h waitlistHandlers) promote(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req PromoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	apptID, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	entry, err := h.svc.Promote(r.Context(), caller, id, apptID, req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

func (h waitlistHandlers) priority(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req PriorityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PriorityScore == nil {
		writeError(w, http.StatusBadRequest, "invalid_priority_score", "priority_score is required")
		return
	}
	entry, err := h.svc.UpdatePriority(r.Context(), caller, id, *req.PriorityScore, req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*entry))
}

func (h waitlistHandlers) bulkStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req BulkStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.BulkUpdateStatus(r.Context(), caller, req.IDs, waitlist.Status(req.Status), req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BulkStatusResponse{Matched: res.Matched, Modified: res.Modified})
}

func (h waitlistHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	n, err := h.svc.SweepExpired(r.Context(), caller)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: n})
}

func (h waitlistHandlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	clinicID, ok := parseOptionalUUID(w, r.URL.Query().Get("clinic_id"), "clinic_id")
	if !ok {
		return
	}
	p, err := h.svc.GetPolicy(r.Context(), caller, clinicID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyPayload(p))
}

func (h waitlistHandlers) putPolicy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req PolicyPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	clinicID := req.ClinicID
	if raw := r.URL.Query().Get("clinic_id"); raw != "" {
		if clinicID, ok = parseOptionalUUID(w, raw, "clinic_id"); !ok {
			return
		}
	}
	saved, err := h.svc.UpsertPolicy(r.Context(), caller, waitlist.Policy{
		ClinicID:                 clinicID,
		MaxQueueSize:             req.MaxQueueSize,
		AutoExpiryHours:          req.AutoExpiryHours,
		AutoPromoteBufferMinutes: req.AutoPromoteBufferMinutes,
		Weights:                  req.Weights,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyPayload(*saved))
}
