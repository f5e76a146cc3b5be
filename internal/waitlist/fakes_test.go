package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/slotlock"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

type memRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]Entry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: map[uuid.UUID]Entry{}}
}

func sameScope(e Entry, s Scope) bool {
	return e.TenantID == s.TenantID && eqID(e.ClinicID, s.ClinicID) && eqID(e.DoctorID, s.DoctorID)
}

func eqID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneEntry(e Entry) Entry {
	e.Audit = append([]AuditEntry(nil), e.Audit...)
	return e
}

func (r *memRepo) Create(_ context.Context, e Entry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.entries {
		if sameScope(other, e.Scope()) && other.PatientID == e.PatientID && other.Status.Open() {
			return nil, ErrDuplicate
		}
	}
	r.entries[e.ID] = cloneEntry(e)
	return &e, nil
}

func (r *memRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.TenantID != tenantID {
		return nil, ErrEntryNotFound
	}
	e = cloneEntry(e)
	return &e, nil
}

func (r *memRepo) FindOpen(_ context.Context, scope Scope, patientID uuid.UUID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if sameScope(e, scope) && e.PatientID == patientID && e.Status.Open() {
			e = cloneEntry(e)
			return &e, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (r *memRepo) CountOpen(_ context.Context, scope Scope, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if sameScope(e, scope) && e.Status.Open() && !e.Overdue(now) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if !sameScope(e, f.Scope) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore < out[j].PriorityScore
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Offset < len(out) {
		out = out[f.Offset:]
	} else {
		out = nil
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func earliest(current *time.Time, by *time.Time) *time.Time {
	if by == nil {
		return current
	}
	if current == nil || by.Before(*current) {
		t := *by
		return &t
	}
	return current
}

func (r *memRepo) UpdateStatus(_ context.Context, c StatusChange) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c.ID]
	if !ok || e.TenantID != c.TenantID || e.Status != c.From {
		return nil, ErrStatusChanged
	}
	e.Status = c.To
	e.ExpiresAt = earliest(e.ExpiresAt, c.ExpiresBy)
	if c.AppointmentID != nil {
		e.AppointmentID = c.AppointmentID
	}
	e.Audit = append(e.Audit, c.Audit)
	r.entries[e.ID] = e
	e = cloneEntry(e)
	return &e, nil
}

func (r *memRepo) UpdatePriority(_ context.Context, tenantID, id uuid.UUID, score float64, a AuditEntry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.TenantID != tenantID || !e.Status.Open() {
		return nil, ErrStatusChanged
	}
	e.PriorityScore = score
	e.Audit = append(e.Audit, a)
	r.entries[id] = e
	e = cloneEntry(e)
	return &e, nil
}

func (r *memRepo) ExpireDue(_ context.Context, tenantID *uuid.UUID, now time.Time, limit int, a AuditEntry) ([]Transitioned, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transitioned
	for id, e := range r.entries {
		if len(out) >= limit {
			break
		}
		if tenantID != nil && e.TenantID != *tenantID {
			continue
		}
		if !e.Status.Open() || e.ExpiresAt == nil || e.ExpiresAt.After(now) {
			continue
		}
		prev := e.Status
		e.Status = StatusExpired
		entryAudit := a
		entryAudit.From = prev
		e.Audit = append(e.Audit, entryAudit)
		r.entries[id] = e
		out = append(out, Transitioned{Entry: cloneEntry(e), Previous: prev})
	}
	return out, nil
}

func (r *memRepo) BulkUpdateStatus(_ context.Context, c BulkChange) (BulkResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res BulkResult
	for _, id := range c.IDs {
		e, ok := r.entries[id]
		if !ok || e.TenantID != c.TenantID {
			continue
		}
		res.Matched++
		if !e.Status.Open() || e.Status == c.To {
			continue
		}
		prev := e.Status
		e.Status = c.To
		e.ExpiresAt = earliest(e.ExpiresAt, c.ExpiresBy)
		e.Audit = append(e.Audit, c.Audit)
		r.entries[id] = e
		res.Changed = append(res.Changed, Transitioned{Entry: cloneEntry(e), Previous: prev})
	}
	res.Modified = len(res.Changed)
	return res, nil
}

type policyKey struct {
	tenant uuid.UUID
	clinic uuid.UUID
}

type memPolicies struct {
	mu       sync.Mutex
	policies map[policyKey]Policy
}

func newMemPolicies() *memPolicies {
	return &memPolicies{policies: map[policyKey]Policy{}}
}

func keyOf(tenant uuid.UUID, clinic *uuid.UUID) policyKey {
	k := policyKey{tenant: tenant}
	if clinic != nil {
		k.clinic = *clinic
	}
	return k
}

func (m *memPolicies) GetPolicy(_ context.Context, tenantID uuid.UUID, clinicID *uuid.UUID) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[keyOf(tenantID, clinicID)]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return &p, nil
}

func (m *memPolicies) UpsertPolicy(_ context.Context, p Policy) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[keyOf(p.TenantID, p.ClinicID)] = p
	return &p, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine   *Engine
	repo     *memRepo
	policies *memPolicies
	pub      *events.MemoryPublisher
	clock    *clock
	tenant   uuid.UUID
	clinic   uuid.UUID
	doctor   uuid.UUID
	admin    tenancy.Caller
}

func newHarness(opts ...func(*Options)) *harness {
	h := &harness{
		repo:     newMemRepo(),
		policies: newMemPolicies(),
		pub:      events.NewMemoryPublisher(),
		clock:    &clock{now: time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)},
		tenant:   uuid.New(),
		clinic:   uuid.New(),
		doctor:   uuid.New(),
	}
	h.admin = tenancy.Caller{TenantID: h.tenant, UserID: uuid.New(), Role: tenancy.RoleAdmin}

	o := Options{
		SerializeEnqueue: true,
		BulkLimit:        10,
		Logger:           zerolog.Nop(),
		Now:              h.clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	locks := slotlock.NewManager(slotlock.NewMemoryStore(), time.Minute, zerolog.Nop(), nil)
	h.engine = NewEngine(h.repo, h.policies, locks, events.SyncEmitter{Pub: h.pub}, o)
	return h
}

func (h *harness) patient() tenancy.Caller {
	return tenancy.Caller{TenantID: h.tenant, UserID: uuid.New(), Role: tenancy.RolePatient}
}

func (h *harness) scopeRequest() EnqueueRequest {
	clinic, doctor := h.clinic, h.doctor
	return EnqueueRequest{ClinicID: &clinic, DoctorID: &doctor}
}

func (h *harness) setPolicy(maxSize, expiryHours int) {
	clinic := h.clinic
	_, _ = h.policies.UpsertPolicy(context.Background(), Policy{
		TenantID:                 h.tenant,
		ClinicID:                 &clinic,
		MaxQueueSize:             maxSize,
		AutoExpiryHours:          expiryHours,
		AutoPromoteBufferMinutes: 30,
	})
}
