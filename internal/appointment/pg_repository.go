package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
)

const activeSlotConstraint = "appointments_active_slot_uq"

const appointmentColumns = `id, tenant_id, patient_id, doctor_id, clinic_id, scheduled_at, mode, status,
		payment, consultation, cancel_reason, created_at, updated_at`

type PgRepository struct {
	q db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("appointment: pgx pool cannot be nil")
	}
	return newPgRepositoryWithQuerier(pool)
}

func newPgRepositoryWithQuerier(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var clinicID *uuid.UUID
	var payment, consultation []byte

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.DoctorID,
		&clinicID,
		&a.ScheduledAt,
		&a.Mode,
		&a.Status,
		&payment,
		&consultation,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ClinicID = clinicID
	if len(payment) > 0 {
		a.Payment = &Payment{}
		if err := json.Unmarshal(payment, a.Payment); err != nil {
			return nil, fmt.Errorf("decode payment for %s: %w", a.ID, err)
		}
	}
	if len(consultation) > 0 {
		a.Consultation = &Consultation{}
		if err := json.Unmarshal(consultation, a.Consultation); err != nil {
			return nil, fmt.Errorf("decode consultation for %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func jsonbParam[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	payment, err := jsonbParam(a.Payment)
	if err != nil {
		return nil, fmt.Errorf("encode payment: %w", err)
	}
	consultation, err := jsonbParam(a.Consultation)
	if err != nil {
		return nil, fmt.Errorf("encode consultation: %w", err)
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, patient_id, doctor_id, clinic_id, scheduled_at, mode, status,
		                          payment, consultation, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.TenantID, a.PatientID, a.DoctorID, a.ClinicID, a.ScheduledAt.UTC(), a.Mode, a.Status,
		payment, consultation)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotConstraint) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveAtSlot(ctx context.Context, tenantID, doctorID uuid.UUID, scheduledAt time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND scheduled_at = $3
		  AND status <> 'cancelled'
		LIMIT 1
	`, tenantID, doctorID, scheduledAt.UTC())
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, upd StatusUpdate) (*Appointment, error) {
	payment, err := jsonbParam(upd.Payment)
	if err != nil {
		return nil, fmt.Errorf("encode payment: %w", err)
	}
	consultation, err := jsonbParam(upd.Consultation)
	if err != nil {
		return nil, fmt.Errorf("encode consultation: %w", err)
	}

	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $4,
		    payment = COALESCE($5, payment),
		    consultation = COALESCE($6, consultation),
		    cancel_reason = CASE WHEN $7 = '' THEN cancel_reason ELSE $7 END,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = $3
		RETURNING `+appointmentColumns,
		upd.TenantID, upd.ID, upd.From, upd.To, payment, consultation, upd.CancelReason)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) UpdateConsultation(ctx context.Context, edit ConsultationEdit) (*Appointment, error) {
	consultation, err := json.Marshal(edit.Consultation)
	if err != nil {
		return nil, fmt.Errorf("encode consultation: %w", err)
	}
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET consultation = $5,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = $3
		  AND status IN ('checked-in', 'in-session', 'completed')
		  AND updated_at = $4
		RETURNING `+appointmentColumns,
		edit.TenantID, edit.ID, edit.Status, edit.UpdatedAt, consultation)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update consultation: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) ListByDoctor(ctx context.Context, tenantID, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND scheduled_at >= $3
		  AND scheduled_at < $4
		ORDER BY scheduled_at, id
	`, tenantID, doctorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY scheduled_at DESC, id
		LIMIT $3 OFFSET $4
	`, tenantID, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending-payment'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find expired pending appointments: %w", err)
	}
	return collectAppointments(rows)
}
