package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/slotlock"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

// memRepo does not enforce slot uniqueness itself so tests exercise the
// lock and the re-check.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]Appointment
	clock func() time.Time
	// beforeEdit runs ahead of UpdateConsultation, after the service read.
	beforeEdit func()
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[uuid.UUID]Appointment{}, clock: time.Now}
}

func (r *memRepo) Create(_ context.Context, a Appointment) (*Appointment, error) {
	// Widen the window between re-check and insert.
	time.Sleep(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = r.clock()
	a.UpdatedAt = a.CreatedAt
	r.items[a.ID] = a
	return &a, nil
}

func (r *memRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) FindActiveAtSlot(_ context.Context, tenantID, doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.TenantID == tenantID && a.DoctorID == doctorID && a.ScheduledAt.Equal(at) && a.Status != StatusCancelled {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) UpdateStatus(_ context.Context, upd StatusUpdate) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[upd.ID]
	if !ok || a.TenantID != upd.TenantID || a.Status != upd.From {
		return nil, ErrStatusChanged
	}
	a.Status = upd.To
	if upd.Consultation != nil {
		a.Consultation = upd.Consultation
	}
	if upd.Payment != nil {
		a.Payment = upd.Payment
	}
	if upd.CancelReason != "" {
		a.CancelReason = upd.CancelReason
	}
	a.UpdatedAt = r.clock()
	r.items[a.ID] = a
	return &a, nil
}

func (r *memRepo) UpdateConsultation(_ context.Context, edit ConsultationEdit) (*Appointment, error) {
	if r.beforeEdit != nil {
		r.beforeEdit()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[edit.ID]
	if !ok || a.TenantID != edit.TenantID || a.Status != edit.Status ||
		!a.Status.ConsultationEditable() || !a.UpdatedAt.Equal(edit.UpdatedAt) {
		return nil, ErrStatusChanged
	}
	c := edit.Consultation
	a.Consultation = &c
	a.UpdatedAt = r.clock()
	r.items[a.ID] = a
	return &a, nil
}

func (r *memRepo) ListByDoctor(_ context.Context, tenantID, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.items {
		if a.TenantID == tenantID && a.DoctorID == doctorID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *memRepo) ListByPatient(_ context.Context, tenantID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.items {
		if a.TenantID == tenantID && a.PatientID == patientID {
			out = append(out, a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) FindExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.items {
		if a.Status == StatusPendingPayment && a.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) active() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.items {
		if a.Status != StatusCancelled {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepo) put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = a
}

type recordingHook struct {
	mu    sync.Mutex
	slots []FreedSlot
}

func (h *recordingHook) SlotReleased(_ context.Context, slot FreedSlot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots = append(h.slots, slot)
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slots)
}

type failingGateway struct{}

func (failingGateway) Quote(context.Context, tenancy.Caller, BookingRequest) (Quote, error) {
	return Quote{}, errors.New("gateway timeout")
}

type harness struct {
	svc    *Service
	repo   *memRepo
	pub    *events.MemoryPublisher
	hook   *recordingHook
	now    time.Time
	tenant uuid.UUID
	doctor uuid.UUID
	admin  tenancy.Caller
}

func newHarness(opts ...func(*Options)) *harness {
	h := &harness{
		repo:   newMemRepo(),
		pub:    events.NewMemoryPublisher(),
		hook:   &recordingHook{},
		now:    time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC),
		tenant: uuid.New(),
		doctor: uuid.New(),
	}
	h.admin = tenancy.Caller{TenantID: h.tenant, UserID: uuid.New(), Role: tenancy.RoleAdmin}
	h.repo.clock = func() time.Time { return h.now }

	o := Options{
		LockTTL:       time.Minute,
		PaymentWindow: 15 * time.Minute,
		OnSlotRelease: h.hook,
		Logger:        zerolog.Nop(),
		Now:           func() time.Time { return h.now },
	}
	for _, fn := range opts {
		fn(&o)
	}
	locks := slotlock.NewManager(slotlock.NewMemoryStore(), time.Minute, zerolog.Nop(), nil)
	h.svc = NewService(h.repo, locks, events.SyncEmitter{Pub: h.pub}, o)
	return h
}

func (h *harness) patient() tenancy.Caller {
	return tenancy.Caller{TenantID: h.tenant, UserID: uuid.New(), Role: tenancy.RolePatient}
}

func (h *harness) doctorCaller() tenancy.Caller {
	return tenancy.Caller{TenantID: h.tenant, UserID: h.doctor, Role: tenancy.RoleDoctor}
}

func (h *harness) slot() time.Time {
	return h.now.Add(time.Hour)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
