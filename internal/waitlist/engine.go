package waitlist

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
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/slotlock"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

var (
	ErrFull           = apperr.Conflict("waitlist_full", "waitlist is full")
	ErrBusy           = apperr.Conflict("waitlist_busy", "waitlist is being updated, retry shortly")
	ErrInvalidEntry   = apperr.InvalidInput("invalid_waitlist_request", "invalid waitlist request")
	ErrNotYourEntry   = apperr.Forbidden("not_owner", "waitlist entry belongs to another patient")
	ErrStaffOnly      = apperr.Forbidden("staff_only", "operation requires staff role")
	ErrAdminOnly      = apperr.Forbidden("admin_only", "operation requires admin role")
	ErrUsePromotion   = apperr.InvalidInput("use_promotion", "promotion requires an appointment reference")
	ErrBadAppointment = apperr.Conflict("appointment_mismatch", "appointment does not match the waitlist entry")
)

// statusEvents lists the generic transitions that are reported downstream.
var statusEvents = map[Status]events.Type{
	StatusInvited:   events.TypeWaitlistInvited,
	StatusCancelled: events.TypeWaitlistCancelled,
	StatusExpired:   events.TypeWaitlistExpired,
}

// AppointmentLookup verifies promotion references.
type AppointmentLookup interface {
	Get(ctx context.Context, caller tenancy.Caller, id uuid.UUID) (*appointment.Appointment, error)
}

type Options struct {
	SerializeEnqueue bool
	ScopeLockTTL     time.Duration
	BulkLimit        int
	SweepBatch       int
	Directory        appointment.Directory
	Appointments     AppointmentLookup
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

type Engine struct {
	repo         Repository
	policies     PolicyStore
	locks        *slotlock.Manager
	emitter      events.Emitter
	directory    appointment.Directory
	appointments AppointmentLookup
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time

	serializeEnqueue bool
	scopeLockTTL     time.Duration
	bulkLimit        int
	sweepBatch       int
}

func NewEngine(repo Repository, policies PolicyStore, locks *slotlock.Manager, emitter events.Emitter, opts Options) *Engine {
	if repo == nil || policies == nil || emitter == nil {
		panic("waitlist: repository, policy store and emitter are required")
	}
	if opts.SerializeEnqueue && locks == nil {
		panic("waitlist: serialized enqueue needs a lock manager")
	}
	e := &Engine{
		repo:             repo,
		policies:         policies,
		locks:            locks,
		emitter:          emitter,
		directory:        opts.Directory,
		appointments:     opts.Appointments,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		tracer:           otel.Tracer("clinic/waitlist"),
		now:              opts.Now,
		serializeEnqueue: opts.SerializeEnqueue,
		scopeLockTTL:     opts.ScopeLockTTL,
		bulkLimit:        opts.BulkLimit,
		sweepBatch:       opts.SweepBatch,
	}
	if e.directory == nil {
		e.directory = appointment.StaticDirectory{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.scopeLockTTL <= 0 {
		e.scopeLockTTL = 10 * time.Second
	}
	if e.bulkLimit <= 0 {
		e.bulkLimit = 100
	}
	if e.sweepBatch <= 0 {
		e.sweepBatch = 500
	}
	return e
}

type EnqueueRequest struct {
	PatientID       uuid.UUID
	ClinicID        *uuid.UUID
	DoctorID        *uuid.UUID
	RequestedWindow Window
	Notes           string
	Metadata        map[string]string
}

// Enqueue admits a patient to a scope's queue, subject to the duplicate
// check and the policy's capacity.
func (e *Engine) Enqueue(ctx context.Context, caller tenancy.Caller, req EnqueueRequest) (*Entry, error) {
	ctx, span := e.tracer.Start(ctx, "waitlist.Enqueue", trace.WithAttributes(
		attribute.String("tenant_id", caller.TenantID.String()),
	))
	defer span.End()

	entry, err := e.enqueue(ctx, caller, req)
	e.metrics.ObserveWaitlist("enqueue", resultOf(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
		return nil, err
	}

	e.logger.Info().
		Str("tenant_id", entry.TenantID.String()).
		Str("entry_id", entry.ID.String()).
		Str("scope", entry.Scope().String()).
		Msg("waitlist entry created")
	e.emit(ctx, events.TypeWaitlistJoined, *entry, "")
	return entry, nil
}

func (e *Engine) enqueue(ctx context.Context, caller tenancy.Caller, req EnqueueRequest) (*Entry, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if req.PatientID == uuid.Nil && caller.Role == tenancy.RolePatient {
		req.PatientID = caller.UserID
	}
	if req.PatientID == uuid.Nil {
		return nil, ErrInvalidEntry.Withf("patient_id is required")
	}
	if caller.Role == tenancy.RolePatient && req.PatientID != caller.UserID {
		return nil, ErrNotYourEntry
	}
	if w := req.RequestedWindow; w.From != nil && w.To != nil && !w.To.After(*w.From) {
		return nil, ErrInvalidEntry.Withf("requested window must end after it starts")
	}

	scope := Scope{TenantID: caller.TenantID, ClinicID: req.ClinicID, DoctorID: req.DoctorID}
	admit := func(ctx context.Context) (*Entry, error) {
		return e.admit(ctx, caller, scope, req)
	}
	if !e.serializeEnqueue {
		return admit(ctx)
	}

	var entry *Entry
	err := e.locks.WithLock(ctx, slotlock.ScopeKey(scope.TenantID, scope.ClinicID, scope.DoctorID), e.scopeLockTTL,
		func(lockCtx context.Context) error {
			var err error
			entry, err = admit(lockCtx)
			return err
		})
	if errors.Is(err, slotlock.ErrNotAcquired) {
		return nil, ErrBusy
	}
	return entry, err
}

func (e *Engine) admit(ctx context.Context, caller tenancy.Caller, scope Scope, req EnqueueRequest) (*Entry, error) {
	policy, err := ResolvePolicy(ctx, e.policies, scope.TenantID, scope.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("resolve waitlist policy: %w", err)
	}

	now := e.now().UTC()
	existing, err := e.repo.FindOpen(ctx, scope, req.PatientID)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if existing != nil {
		existing, err = e.settle(ctx, existing, now)
		if err != nil {
			return nil, err
		}
		if existing.Status.Open() {
			return nil, ErrDuplicate
		}
	}

	open, err := e.repo.CountOpen(ctx, scope, now)
	if err != nil {
		return nil, err
	}
	if open >= policy.MaxQueueSize {
		return nil, ErrFull.Withf("waitlist is full (%d of %d)", open, policy.MaxQueueSize)
	}

	expiresAt := policy.ExpiresAt(now)
	entry := Entry{
		ID:              uuid.New(),
		TenantID:        scope.TenantID,
		PatientID:       req.PatientID,
		ClinicID:        scope.ClinicID,
		DoctorID:        scope.DoctorID,
		Status:          StatusActive,
		RequestedWindow: req.RequestedWindow,
		Notes:           req.Notes,
		Metadata:        req.Metadata,
		ExpiresAt:       &expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry.PriorityScore = ScorerFor(policy).Score(entry, now)
	entry.Audit = []AuditEntry{audit(caller, ActionCreated, "", StatusActive, now, "")}

	return e.repo.Create(ctx, entry)
}

func (e *Engine) Get(ctx context.Context, caller tenancy.Caller, id uuid.UUID) (*Entry, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	entry, err := e.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if caller.Role == tenancy.RolePatient && entry.PatientID != caller.UserID {
		return nil, ErrEntryNotFound
	}
	return e.settle(ctx, entry, e.now().UTC())
}

// List returns a scope's queue in promotion order.
func (e *Engine) List(ctx context.Context, caller tenancy.Caller, f ListFilter) ([]Entry, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsStaff() {
		return nil, ErrStaffOnly
	}
	f.Scope.TenantID = caller.TenantID
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, ErrInvalidEntry.Withf("unknown status %q", s)
		}
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.repo.List(ctx, f)
}

func (e *Engine) Count(ctx context.Context, caller tenancy.Caller, scope Scope) (int, error) {
	if err := caller.Validate(); err != nil {
		return 0, err
	}
	if !caller.IsStaff() {
		return 0, ErrStaffOnly
	}
	scope.TenantID = caller.TenantID
	return e.repo.CountOpen(ctx, scope, e.now().UTC())
}

// UpdateStatus applies a generic status change. Promotion has its own path.
func (e *Engine) UpdateStatus(ctx context.Context, caller tenancy.Caller, id uuid.UUID, to Status, note string) (*Entry, error) {
	entry, err := e.updateStatus(ctx, caller, id, to, note)
	e.metrics.ObserveWaitlist("status_"+string(to), resultOf(err))
	return entry, err
}

func (e *Engine) updateStatus(ctx context.Context, caller tenancy.Caller, id uuid.UUID, to Status, note string) (*Entry, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if to == StatusPromoted {
		return nil, ErrUsePromotion
	}
	if !to.Valid() {
		return nil, ErrInvalidEntry.Withf("unknown status %q", to)
	}

	current, err := e.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if caller.Role == tenancy.RolePatient {
		if current.PatientID != caller.UserID {
			return nil, ErrEntryNotFound
		}
		if to != StatusCancelled {
			return nil, ErrStaffOnly.Withf("patients may only cancel their own entry")
		}
	}
	now := e.now().UTC()
	current, err = e.settle(ctx, current, now)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if current.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	policy, err := e.policyFor(ctx, *current)
	if err != nil {
		return nil, err
	}
	change := StatusChange{
		TenantID: current.TenantID,
		ID:       current.ID,
		From:     current.Status,
		To:       to,
		Audit:    audit(caller, ActionStatusChange, current.Status, to, now, note),
	}
	if to == StatusInvited {
		by := now.Add(policy.PromoteBuffer())
		change.ExpiresBy = &by
	}

	updated, err := e.repo.UpdateStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	if t, ok := statusEvents[to]; ok {
		e.emit(ctx, t, *updated, current.Status)
	}
	return updated, nil
}

// Promote links an entry to a booked appointment and closes it. Promoting a
// closed entry, including one already promoted, is a conflict.
func (e *Engine) Promote(ctx context.Context, caller tenancy.Caller, id, appointmentID uuid.UUID, note string) (*Entry, error) {
	entry, err := e.promote(ctx, caller, id, appointmentID, note)
	e.metrics.ObserveWaitlist("promote", resultOf(err))
	return entry, err
}

func (e *Engine) promote(ctx context.Context, caller tenancy.Caller, id, appointmentID uuid.UUID, note string) (*Entry, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsStaff() {
		return nil, ErrStaffOnly
	}
	if appointmentID == uuid.Nil {
		return nil, ErrUsePromotion
	}

	now := e.now().UTC()
	current, err := e.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if current, err = e.settle(ctx, current, now); err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, ErrAlreadyTerminal.Withf("waitlist entry is already %s", current.Status)
	}

	if e.appointments != nil {
		appt, err := e.appointments.Get(ctx, caller, appointmentID)
		if err != nil {
			return nil, err
		}
		if appt.PatientID != current.PatientID || appt.Status == appointment.StatusCancelled {
			return nil, ErrBadAppointment
		}
	}

	updated, err := e.repo.UpdateStatus(ctx, StatusChange{
		TenantID:      current.TenantID,
		ID:            current.ID,
		From:          current.Status,
		To:            StatusPromoted,
		AppointmentID: &appointmentID,
		Audit:         audit(caller, ActionPromotion, current.Status, StatusPromoted, now, note),
	})
	if err != nil {
		return nil, err
	}
	e.emit(ctx, events.TypeWaitlistPromoted, *updated, current.Status)
	return updated, nil
}

// UpdatePriority overrides an open entry's score. Closed entries keep the
// score they were closed with.
func (e *Engine) UpdatePriority(ctx context.Context, caller tenancy.Caller, id uuid.UUID, score float64, note string) (*Entry, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsStaff() {
		return nil, ErrStaffOnly
	}
	now := e.now().UTC()
	current, err := e.repo.GetByID(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}
	if current, err = e.settle(ctx, current, now); err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	a := audit(caller, ActionPriorityChange, current.Status, current.Status, now,
		fmt.Sprintf("%g -> %g %s", current.PriorityScore, score, note))
	updated, err := e.repo.UpdatePriority(ctx, caller.TenantID, id, score, a)
	e.metrics.ObserveWaitlist("priority", resultOf(err))
	return updated, err
}

// SweepExpired expires the caller's tenant's overdue entries.
func (e *Engine) SweepExpired(ctx context.Context, caller tenancy.Caller) (int, error) {
	if err := caller.Validate(); err != nil {
		return 0, err
	}
	if !caller.IsAdmin() {
		return 0, ErrAdminOnly
	}
	tenant := caller.TenantID
	return e.sweep(ctx, caller, &tenant)
}

// SweepAll expires overdue entries across every tenant. Used by the worker.
func (e *Engine) SweepAll(ctx context.Context) (int, error) {
	return e.sweep(ctx, tenancy.SystemCaller(uuid.Nil), nil)
}

func (e *Engine) sweep(ctx context.Context, caller tenancy.Caller, tenantID *uuid.UUID) (int, error) {
	ctx, span := e.tracer.Start(ctx, "waitlist.Sweep")
	defer span.End()

	now := e.now().UTC()
	a := audit(caller, ActionExpiry, "", StatusExpired, now, "")
	total := 0
	for {
		expired, err := e.repo.ExpireDue(ctx, tenantID, now, e.sweepBatch, a)
		if err != nil {
			span.RecordError(err)
			return total, fmt.Errorf("sweep expired waitlist entries: %w", err)
		}
		for _, t := range expired {
			e.emit(ctx, events.TypeWaitlistExpired, t.Entry, t.Previous)
		}
		total += len(expired)
		if len(expired) < e.sweepBatch {
			break
		}
	}

	span.SetAttributes(attribute.Int("expired", total))
	e.metrics.ObserveSweep("waitlist_expiry", total)
	if total > 0 {
		e.logger.Info().Int("expired", total).Msg("waitlist entries expired")
	}
	return total, nil
}

// BulkUpdateStatus applies one status to a bounded batch of entries.
func (e *Engine) BulkUpdateStatus(ctx context.Context, caller tenancy.Caller, ids []uuid.UUID, to Status, note string) (BulkResult, error) {
	if err := caller.Validate(); err != nil {
		return BulkResult{}, err
	}
	if !caller.IsStaff() {
		return BulkResult{}, ErrStaffOnly
	}
	switch to {
	case StatusActive, StatusInvited, StatusCancelled, StatusExpired:
	case StatusPromoted:
		return BulkResult{}, ErrUsePromotion
	default:
		return BulkResult{}, ErrInvalidEntry.Withf("unknown status %q", to)
	}

	unique := dedupe(ids)
	if len(unique) == 0 {
		return BulkResult{}, ErrInvalidEntry.Withf("ids are required")
	}
	if len(unique) > e.bulkLimit {
		return BulkResult{}, ErrInvalidEntry.Withf("at most %d ids per request", e.bulkLimit)
	}

	now := e.now().UTC()
	change := BulkChange{
		TenantID: caller.TenantID,
		IDs:      unique,
		To:       to,
		Audit:    audit(caller, ActionStatusChange, "", to, now, note),
	}
	if to == StatusInvited {
		// Tenant-wide buffer; clinic overrides apply on single invitations.
		policy, err := ResolvePolicy(ctx, e.policies, caller.TenantID, nil)
		if err != nil {
			return BulkResult{}, err
		}
		by := now.Add(policy.PromoteBuffer())
		change.ExpiresBy = &by
	}

	res, err := e.repo.BulkUpdateStatus(ctx, change)
	e.metrics.ObserveWaitlist("bulk_"+string(to), resultOf(err))
	if err != nil {
		return BulkResult{}, err
	}
	if t, ok := statusEvents[to]; ok {
		for _, c := range res.Changed {
			e.emit(ctx, t, c.Entry, c.Previous)
		}
	}
	return res, nil
}

func (e *Engine) GetPolicy(ctx context.Context, caller tenancy.Caller, clinicID *uuid.UUID) (Policy, error) {
	if err := caller.Validate(); err != nil {
		return Policy{}, err
	}
	if !caller.IsStaff() {
		return Policy{}, ErrStaffOnly
	}
	return ResolvePolicy(ctx, e.policies, caller.TenantID, clinicID)
}

func (e *Engine) UpsertPolicy(ctx context.Context, caller tenancy.Caller, p Policy) (*Policy, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	p.TenantID = caller.TenantID
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return e.policies.UpsertPolicy(ctx, p)
}

// SlotReleased invites the best-placed active entry for a freed slot: the
// doctor's queue first, then the wider clinic queue.
func (e *Engine) SlotReleased(ctx context.Context, slot appointment.FreedSlot) {
	caller := tenancy.SystemCaller(slot.TenantID)
	doctor := slot.DoctorID
	scopes := []Scope{
		{TenantID: slot.TenantID, ClinicID: slot.ClinicID, DoctorID: &doctor},
		{TenantID: slot.TenantID, ClinicID: slot.ClinicID},
	}
	for _, scope := range scopes {
		candidates, err := e.repo.List(ctx, ListFilter{Scope: scope, Statuses: []Status{StatusActive}, Limit: inviteCandidates})
		if err != nil {
			e.logger.Error().Err(err).Str("scope", scope.String()).Msg("slot release: list waitlist failed")
			return
		}
		note := fmt.Sprintf("slot %s freed by appointment %s", slot.ScheduledAt.UTC().Format(time.RFC3339), slot.AppointmentID)
		for _, next := range candidates {
			_, err := e.UpdateStatus(ctx, caller, next.ID, StatusInvited, note)
			if err == nil {
				return
			}
			// Overdue candidates are expired on touch; try the next one.
			if errors.Is(err, ErrAlreadyTerminal) {
				continue
			}
			e.logger.Warn().Err(err).Str("entry_id", next.ID.String()).Msg("slot release: invitation failed")
			return
		}
	}
}

const inviteCandidates = 5

// settle expires entry when it is overdue at now, with the same audit and
// event a sweep would produce. Other entries are returned unchanged.
func (e *Engine) settle(ctx context.Context, entry *Entry, now time.Time) (*Entry, error) {
	if !entry.Overdue(now) {
		return entry, nil
	}
	updated, err := e.repo.UpdateStatus(ctx, StatusChange{
		TenantID: entry.TenantID,
		ID:       entry.ID,
		From:     entry.Status,
		To:       StatusExpired,
		Audit:    audit(tenancy.SystemCaller(entry.TenantID), ActionExpiry, entry.Status, StatusExpired, now, ""),
	})
	if errors.Is(err, ErrStatusChanged) {
		// A sweep or another request got there first.
		return e.repo.GetByID(ctx, entry.TenantID, entry.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("expire overdue waitlist entry: %w", err)
	}
	e.metrics.ObserveWaitlist("expire_on_touch", "ok")
	e.emit(ctx, events.TypeWaitlistExpired, *updated, entry.Status)
	return updated, nil
}

func (e *Engine) policyFor(ctx context.Context, entry Entry) (Policy, error) {
	return ResolvePolicy(ctx, e.policies, entry.TenantID, entry.ClinicID)
}

func (e *Engine) emit(ctx context.Context, t events.Type, entry Entry, previous Status) {
	patient, err := e.directory.Patient(ctx, entry.TenantID, entry.PatientID)
	if err != nil {
		e.logger.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("patient lookup failed, using partial snapshot")
		patient = events.Contact{ID: entry.PatientID}
	}
	e.emitter.Emit(ctx, events.WaitlistEvent{
		Type:           t,
		TenantID:       entry.TenantID,
		EntryID:        entry.ID,
		ClinicID:       entry.ClinicID,
		DoctorID:       entry.DoctorID,
		Status:         string(entry.Status),
		PreviousStatus: string(previous),
		PriorityScore:  entry.PriorityScore,
		ExpiresAt:      entry.ExpiresAt,
		AppointmentID:  entry.AppointmentID,
		Patient:        patient,
		OccurredAt:     e.now().UTC(),
	})
}

func audit(caller tenancy.Caller, action Action, from, to Status, at time.Time, note string) AuditEntry {
	return AuditEntry{
		Action: action,
		Actor:  caller.UserID,
		Role:   string(caller.Role),
		At:     at,
		From:   from,
		To:     to,
		Note:   note,
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperr.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
