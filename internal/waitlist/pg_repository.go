package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
)

const openPatientConstraint = "waitlist_open_patient_uq"

var entryFields = []string{
	"id", "tenant_id", "patient_id", "clinic_id", "doctor_id", "status", "priority_score",
	"requested_window", "notes", "metadata", "expires_at", "appointment_id", "audit",
	"created_at", "updated_at",
}

func entryColumns(alias string) string {
	if alias == "" {
		return strings.Join(entryFields, ", ")
	}
	cols := make([]string, len(entryFields))
	for i, f := range entryFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// scopeClause matches the scope exactly, treating NULL clinic/doctor as part
// of the key.
const scopeClause = `tenant_id = $1
		  AND clinic_id IS NOT DISTINCT FROM $2
		  AND doctor_id IS NOT DISTINCT FROM $3`

type PgRepository struct {
	q db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("waitlist: pgx pool cannot be nil")
	}
	return newPgRepositoryWithQuerier(pool)
}

func newPgRepositoryWithQuerier(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

func scanEntry(row pgx.Row, extra ...any) (*Entry, error) {
	var e Entry
	var window, metadata, audit []byte

	dest := []any{
		&e.ID,
		&e.TenantID,
		&e.PatientID,
		&e.ClinicID,
		&e.DoctorID,
		&e.Status,
		&e.PriorityScore,
		&window,
		&e.Notes,
		&metadata,
		&e.ExpiresAt,
		&e.AppointmentID,
		&audit,
		&e.CreatedAt,
		&e.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	if len(window) > 0 {
		if err := json.Unmarshal(window, &e.RequestedWindow); err != nil {
			return nil, fmt.Errorf("decode requested window for %s: %w", e.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
		}
	}
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &e.Audit); err != nil {
			return nil, fmt.Errorf("decode audit for %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectTransitioned(rows pgx.Rows) ([]Transitioned, error) {
	defer rows.Close()

	var result []Transitioned
	for rows.Next() {
		var prev Status
		e, err := scanEntry(rows, &prev)
		if err != nil {
			return nil, err
		}
		result = append(result, Transitioned{Entry: *e, Previous: prev})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) Create(ctx context.Context, e Entry) (*Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	window, err := json.Marshal(e.RequestedWindow)
	if err != nil {
		return nil, fmt.Errorf("encode requested window: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	audit, err := json.Marshal(e.Audit)
	if err != nil {
		return nil, fmt.Errorf("encode audit: %w", err)
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, tenant_id, patient_id, clinic_id, doctor_id, status, priority_score,
		                              requested_window, notes, metadata, expires_at, appointment_id, audit,
		                              created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $13, $13)
		RETURNING `+entryColumns(""),
		e.ID, e.TenantID, e.PatientID, e.ClinicID, e.DoctorID, e.Status, e.PriorityScore,
		window, e.Notes, metadata, e.ExpiresAt, audit, e.CreatedAt)

	created, err := scanEntry(row)
	if err != nil {
		if db.IsUniqueViolation(err, openPatientConstraint) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert waitlist entry: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Entry, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+entryColumns("")+`
		FROM waitlist_entries
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanEntry(row)
}

func (r *PgRepository) FindOpen(ctx context.Context, scope Scope, patientID uuid.UUID) (*Entry, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+entryColumns("")+`
		FROM waitlist_entries
		WHERE `+scopeClause+`
		  AND patient_id = $4
		  AND status IN ('active', 'invited')
		LIMIT 1
	`, scope.TenantID, scope.ClinicID, scope.DoctorID, patientID)
	return scanEntry(row)
}

func (r *PgRepository) CountOpen(ctx context.Context, scope Scope, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM waitlist_entries
		WHERE `+scopeClause+`
		  AND status IN ('active', 'invited')
		  AND (expires_at IS NULL OR expires_at > $4)
	`, scope.TenantID, scope.ClinicID, scope.DoctorID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open waitlist entries: %w", err)
	}
	return n, nil
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+entryColumns("")+`
		FROM waitlist_entries
		WHERE `+scopeClause+`
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4))
		ORDER BY priority_score ASC, created_at ASC, id
		LIMIT $5 OFFSET $6
	`, f.Scope.TenantID, f.Scope.ClinicID, f.Scope.DoctorID, statusStrings(f.Statuses), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	return collectEntries(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, c StatusChange) (*Entry, error) {
	audit, err := json.Marshal([]AuditEntry{c.Audit})
	if err != nil {
		return nil, fmt.Errorf("encode audit: %w", err)
	}

	row := r.q.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $4,
		    expires_at = LEAST(expires_at, $5),
		    appointment_id = COALESCE($6, appointment_id),
		    audit = audit || $7::jsonb,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = $3
		RETURNING `+entryColumns(""),
		c.TenantID, c.ID, c.From, c.To, c.ExpiresBy, c.AppointmentID, audit)

	updated, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update waitlist status: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) UpdatePriority(ctx context.Context, tenantID, id uuid.UUID, score float64, a AuditEntry) (*Entry, error) {
	audit, err := json.Marshal([]AuditEntry{a})
	if err != nil {
		return nil, fmt.Errorf("encode audit: %w", err)
	}

	row := r.q.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET priority_score = $3,
		    audit = audit || $4::jsonb,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status IN ('active', 'invited')
		RETURNING `+entryColumns(""),
		tenantID, id, score, audit)

	updated, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update waitlist priority: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) ExpireDue(ctx context.Context, tenantID *uuid.UUID, now time.Time, limit int, a AuditEntry) ([]Transitioned, error) {
	rows, err := r.q.Query(ctx, `
		UPDATE waitlist_entries w
		SET status = 'expired',
		    audit = w.audit || jsonb_build_array(jsonb_build_object(
		        'action', $4::text, 'actor', $5::uuid, 'role', $6::text, 'at', $1::timestamptz,
		        'from', old.status, 'to', 'expired')),
		    updated_at = now()
		FROM waitlist_entries old
		WHERE old.id = w.id
		  AND w.id IN (
		      SELECT id FROM waitlist_entries
		      WHERE status IN ('active', 'invited')
		        AND expires_at <= $1
		        AND ($2::uuid IS NULL OR tenant_id = $2)
		      ORDER BY expires_at
		      LIMIT $3
		      FOR UPDATE SKIP LOCKED)
		RETURNING `+entryColumns("w")+`, old.status
	`, now.UTC(), tenantID, limit, string(a.Action), a.Actor, a.Role)
	if err != nil {
		return nil, fmt.Errorf("expire due waitlist entries: %w", err)
	}
	return collectTransitioned(rows)
}

func (r *PgRepository) BulkUpdateStatus(ctx context.Context, c BulkChange) (BulkResult, error) {
	var res BulkResult
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM waitlist_entries WHERE tenant_id = $1 AND id = ANY($2)
	`, c.TenantID, c.IDs).Scan(&res.Matched)
	if err != nil {
		return BulkResult{}, fmt.Errorf("count bulk waitlist entries: %w", err)
	}

	rows, err := r.q.Query(ctx, `
		UPDATE waitlist_entries w
		SET status = $3,
		    expires_at = LEAST(w.expires_at, $4),
		    audit = w.audit || jsonb_build_array(jsonb_build_object(
		        'action', $5::text, 'actor', $6::uuid, 'role', $7::text, 'at', $8::timestamptz,
		        'from', old.status, 'to', $3::text, 'note', $9::text)),
		    updated_at = now()
		FROM waitlist_entries old
		WHERE old.id = w.id
		  AND w.tenant_id = $1
		  AND w.id = ANY($2)
		  AND w.status IN ('active', 'invited')
		  AND w.status <> $3
		RETURNING `+entryColumns("w")+`, old.status
	`, c.TenantID, c.IDs, c.To, c.ExpiresBy, string(c.Audit.Action), c.Audit.Actor, c.Audit.Role, c.Audit.At.UTC(), c.Audit.Note)
	if err != nil {
		return BulkResult{}, fmt.Errorf("bulk update waitlist status: %w", err)
	}
	res.Changed, err = collectTransitioned(rows)
	if err != nil {
		return BulkResult{}, err
	}
	res.Modified = len(res.Changed)
	return res, nil
}

// Policies

type PgPolicyStore struct {
	q db.Querier
}

func NewPgPolicyStore(pool *pgxpool.Pool) *PgPolicyStore {
	if pool == nil {
		panic("waitlist: pgx pool cannot be nil")
	}
	return newPgPolicyStoreWithQuerier(pool)
}

func newPgPolicyStoreWithQuerier(q db.Querier) *PgPolicyStore {
	return &PgPolicyStore{q: q}
}

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	var weights []byte
	err := row.Scan(
		&p.TenantID,
		&p.ClinicID,
		&p.MaxQueueSize,
		&p.AutoExpiryHours,
		&p.AutoPromoteBufferMinutes,
		&weights,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &p.Weights); err != nil {
			return nil, fmt.Errorf("decode priority weights: %w", err)
		}
	}
	return &p, nil
}

func (s *PgPolicyStore) GetPolicy(ctx context.Context, tenantID uuid.UUID, clinicID *uuid.UUID) (*Policy, error) {
	row := s.q.QueryRow(ctx, `
		SELECT tenant_id, clinic_id, max_queue_size, auto_expiry_hours, auto_promote_buffer_minutes, weights, updated_at
		FROM waitlist_policies
		WHERE tenant_id = $1 AND clinic_id IS NOT DISTINCT FROM $2
	`, tenantID, clinicID)
	return scanPolicy(row)
}

func (s *PgPolicyStore) UpsertPolicy(ctx context.Context, p Policy) (*Policy, error) {
	weights, err := json.Marshal(p.Weights)
	if err != nil {
		return nil, fmt.Errorf("encode priority weights: %w", err)
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO waitlist_policies (tenant_id, clinic_id, max_queue_size, auto_expiry_hours,
		                               auto_promote_buffer_minutes, weights, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (tenant_id, (COALESCE(clinic_id, '00000000-0000-0000-0000-000000000000'::uuid)))
		DO UPDATE SET max_queue_size = EXCLUDED.max_queue_size,
		              auto_expiry_hours = EXCLUDED.auto_expiry_hours,
		              auto_promote_buffer_minutes = EXCLUDED.auto_promote_buffer_minutes,
		              weights = EXCLUDED.weights,
		              updated_at = now()
		RETURNING tenant_id, clinic_id, max_queue_size, auto_expiry_hours, auto_promote_buffer_minutes, weights, updated_at
	`, p.TenantID, p.ClinicID, p.MaxQueueSize, p.AutoExpiryHours, p.AutoPromoteBufferMinutes, weights)
	saved, err := scanPolicy(row)
	if err != nil {
		return nil, fmt.Errorf("upsert waitlist policy: %w", err)
	}
	return saved, nil
}
