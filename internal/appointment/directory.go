package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/apperr"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
)

var (
	ErrPatientNotFound = apperr.NotFound("patient_not_found", "patient not found")
	ErrDoctorNotFound  = apperr.NotFound("doctor_not_found", "doctor not found")
)

// Directory resolves the contact snapshot carried on domain events.
type Directory interface {
	Patient(ctx context.Context, tenantID, id uuid.UUID) (events.Contact, error)
	Doctor(ctx context.Context, tenantID, id uuid.UUID) (events.Contact, error)
}

type PgDirectory struct {
	q db.Querier
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	if pool == nil {
		panic("appointment: pgx pool cannot be nil")
	}
	return &PgDirectory{q: pool}
}

func scanContact(row pgx.Row, notFound error) (events.Contact, error) {
	var c events.Contact
	var email, phone *string

	err := row.Scan(
		&c.ID,
		&c.Name,
		&email,
		&phone,
		&c.NotifyEmail,
		&c.NotifySMS,
		&c.NotifyWhatsApp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return events.Contact{}, notFound
		}
		return events.Contact{}, err
	}

	if email != nil {
		c.Email = *email
	}
	if phone != nil {
		c.Phone = *phone
	}
	return c, nil
}

func (d *PgDirectory) Patient(ctx context.Context, tenantID, id uuid.UUID) (events.Contact, error) {
	row := d.q.QueryRow(ctx, `
		SELECT id, name, email, phone, notify_email, notify_sms, notify_whatsapp
		FROM patients
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanContact(row, ErrPatientNotFound)
}

func (d *PgDirectory) Doctor(ctx context.Context, tenantID, id uuid.UUID) (events.Contact, error) {
	row := d.q.QueryRow(ctx, `
		SELECT id, name, email, phone, notify_email, notify_sms, notify_whatsapp
		FROM doctors
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanContact(row, ErrDoctorNotFound)
}

// StaticDirectory answers with id-only contacts. Used when no directory is
// wired and in tests.
type StaticDirectory struct{}

func (StaticDirectory) Patient(_ context.Context, _ uuid.UUID, id uuid.UUID) (events.Contact, error) {
	return events.Contact{ID: id}, nil
}

func (StaticDirectory) Doctor(_ context.Context, _ uuid.UUID, id uuid.UUID) (events.Contact, error) {
	return events.Contact{ID: id}, nil
}
