package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var timezones = []string{"UTC", "Europe/London", "America/New_York", "Asia/Kolkata"}

type Plan struct {
	Tenants           int `json:"tenants"`
	ClinicsPerTenant  int `json:"clinics_per_tenant"`
	DoctorsPerClinic  int `json:"doctors_per_clinic"`
	PatientsPerTenant int `json:"patients_per_tenant"`
}

type Tenant struct {
	ID   uuid.UUID
	Name string
}

type Clinic struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Timezone string
}

// Person is a doctor or patient row.
type Person struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ClinicID       *uuid.UUID
	Name           string
	Specialty      string
	Email          string
	Phone          string
	NotifyEmail    bool
	NotifySMS      bool
	NotifyWhatsApp bool
}

type Dataset struct {
	Tenants  []Tenant
	Clinics  []Clinic
	Doctors  []Person
	Patients []Person
	Policies []waitlist.Policy
}

// Generate builds fake rows for plan. Every doctor belongs to a clinic of
// its own tenant.
func Generate(plan Plan) Dataset {
	var ds Dataset
	for range plan.Tenants {
		tenant := Tenant{ID: uuid.New(), Name: gofakeit.Company()}
		ds.Tenants = append(ds.Tenants, tenant)
		ds.Policies = append(ds.Policies, fakePolicy(tenant.ID))

		for range plan.ClinicsPerTenant {
			clinic := Clinic{
				ID:       uuid.New(),
				TenantID: tenant.ID,
				Name:     gofakeit.City() + " Clinic",
				Timezone: timezones[gofakeit.Number(0, len(timezones)-1)],
			}
			ds.Clinics = append(ds.Clinics, clinic)

			for range plan.DoctorsPerClinic {
				clinicID := clinic.ID
				d := fakePerson(tenant.ID)
				d.ClinicID = &clinicID
				d.Name = "Dr. " + d.Name
				d.Specialty = specialties[gofakeit.Number(0, len(specialties)-1)]
				ds.Doctors = append(ds.Doctors, d)
			}
		}

		for range plan.PatientsPerTenant {
			ds.Patients = append(ds.Patients, fakePerson(tenant.ID))
		}
	}
	return ds
}

// fakePolicy gives roughly half the tenants a weighted queue; the rest keep
// first-in, first-out ordering.
func fakePolicy(tenantID uuid.UUID) waitlist.Policy {
	p := waitlist.DefaultPolicy(tenantID, nil)
	p.MaxQueueSize = gofakeit.Number(20, 200)
	if gofakeit.Bool() {
		p.Weights = waitlist.PriorityWeights{WaitTime: 1, Membership: 2, Condition: 3}
	}
	return p
}

func fakePerson(tenantID uuid.UUID) Person {
	return Person{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           gofakeit.Name(),
		Email:          gofakeit.Email(),
		Phone:          gofakeit.Phone(),
		NotifyEmail:    true,
		NotifySMS:      gofakeit.Bool(),
		NotifyWhatsApp: gofakeit.Number(0, 3) == 0,
	}
}

// TxBeginner is satisfied by *pgxpool.Pool and pgxmock pools.
type TxBeginner interface {
	db.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

const batchSize = 500

// Write inserts the directory rows in one transaction and bulk-copies
// patients in batches.
func Write(ctx context.Context, conn TxBeginner, ds Dataset, logger zerolog.Logger) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range ds.Tenants {
		if _, err := tx.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, t.ID, t.Name); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
	}
	for _, c := range ds.Clinics {
		if _, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, tenant_id, name, timezone)
			VALUES ($1, $2, $3, $4)
		`, c.ID, c.TenantID, c.Name, c.Timezone); err != nil {
			return fmt.Errorf("insert clinic: %w", err)
		}
	}
	for _, d := range ds.Doctors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, tenant_id, clinic_id, name, specialty, email, phone,
			                     notify_email, notify_sms, notify_whatsapp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, d.ID, d.TenantID, d.ClinicID, d.Name, d.Specialty, d.Email, d.Phone,
			d.NotifyEmail, d.NotifySMS, d.NotifyWhatsApp); err != nil {
			return fmt.Errorf("insert doctor: %w", err)
		}
	}
	for _, p := range ds.Policies {
		weights, err := json.Marshal(p.Weights)
		if err != nil {
			return fmt.Errorf("encode policy weights: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO waitlist_policies (tenant_id, clinic_id, max_queue_size, auto_expiry_hours,
			                               auto_promote_buffer_minutes, weights)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.TenantID, p.ClinicID, p.MaxQueueSize, p.AutoExpiryHours, p.AutoPromoteBufferMinutes, weights); err != nil {
			return fmt.Errorf("insert waitlist policy: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit directory: %w", err)
	}
	logger.Info().Int("doctors", len(ds.Doctors)).Msg("directory seeded")

	for offset := 0; offset < len(ds.Patients); offset += batchSize {
		end := min(offset+batchSize, len(ds.Patients))
		if err := copyPatients(ctx, conn, ds.Patients[offset:end]); err != nil {
			return err
		}
		logger.Info().Int("done", end).Int("total", len(ds.Patients)).Msg("patients seeded")
	}
	return nil
}

var patientColumns = []string{
	"id", "tenant_id", "name", "email", "phone",
	"notify_email", "notify_sms", "notify_whatsapp",
}

func copyPatients(ctx context.Context, conn TxBeginner, batch []Person) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows := make([][]any, len(batch))
	for i, p := range batch {
		rows[i] = []any{p.ID, p.TenantID, p.Name, p.Email, p.Phone, p.NotifyEmail, p.NotifySMS, p.NotifyWhatsApp}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"patients"}, patientColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy patients: %w", err)
	}
	return tx.Commit(ctx)
}
