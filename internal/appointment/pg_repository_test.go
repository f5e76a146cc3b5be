package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "tenant_id", "patient_id", "doctor_id", "clinic_id", "scheduled_at", "mode", "status",
	"payment", "consultation", "cancel_reason", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newPgRepositoryWithQuerier(mock), mock
}

func TestPgRepositoryCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenant, patient, doctor := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	rows := pgxmock.NewRows(appointmentCols).AddRow(
		uuid.New(), tenant, patient, doctor, (*uuid.UUID)(nil), at, ModeInPerson, StatusPendingPayment,
		[]byte(`{"reference":"pi_1","status":"pending"}`), []byte(nil), "", now, now,
	)
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), tenant, patient, doctor, (*uuid.UUID)(nil), at, ModeInPerson, StatusPendingPayment, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.Create(context.Background(), Appointment{
		TenantID:    tenant,
		PatientID:   patient,
		DoctorID:    doctor,
		ScheduledAt: at,
		Mode:        ModeInPerson,
		Status:      StatusPendingPayment,
		Payment:     &Payment{Reference: "pi_1", Status: PaymentPending},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "pi_1", got.Payment.Reference)
	assert.Nil(t, got.Consultation)
	assert.Nil(t, got.ClinicID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeSlotConstraint})

	_, err := repo.Create(context.Background(), Appointment{
		TenantID:    uuid.New(),
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		ScheduledAt: time.Now().Add(time.Hour),
		Mode:        ModeRemote,
		Status:      StatusConfirmed,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStatusCompareAndSet(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenant, id := uuid.New(), uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(tenant, id, StatusConfirmed, StatusCheckedIn, pgxmock.AnyArg(), pgxmock.AnyArg(), "").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), StatusUpdate{
		TenantID: tenant,
		ID:       id,
		From:     StatusConfirmed,
		To:       StatusCheckedIn,
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateConsultationStale(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenant, id := uuid.New(), uuid.New()
	seen := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE appointments[\s\S]*status = \$3[\s\S]*updated_at = \$4`).
		WithArgs(tenant, id, StatusCheckedIn, seen, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateConsultation(context.Background(), ConsultationEdit{
		TenantID:     tenant,
		ID:           id,
		Status:       StatusCheckedIn,
		UpdatedAt:    seen,
		Consultation: Consultation{Notes: "stale"},
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindActiveAtSlotMiss(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	tenant, doctor := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs(tenant, doctor, at).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindActiveAtSlot(context.Background(), tenant, doctor, at)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryListByDoctorDecodesConsultation(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenant, doctor, clinic := uuid.New(), uuid.New(), uuid.New()
	from := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	now := time.Now().UTC()

	rows := pgxmock.NewRows(appointmentCols).
		AddRow(uuid.New(), tenant, uuid.New(), doctor, &clinic, from.Add(9*time.Hour), ModeInPerson, StatusInSession,
			[]byte(nil), []byte(`{"started_at":"2030-05-01T09:01:00Z","notes":"ok"}`), "", now, now).
		AddRow(uuid.New(), tenant, uuid.New(), doctor, &clinic, from.Add(10*time.Hour), ModeRemote, StatusConfirmed,
			[]byte(nil), []byte(nil), "", now, now)
	mock.ExpectQuery("SELECT (.+) FROM appointments").WithArgs(tenant, doctor, from, to).WillReturnRows(rows)

	got, err := repo.ListByDoctor(context.Background(), tenant, doctor, from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Consultation)
	assert.Equal(t, "ok", got[0].Consultation.Notes)
	assert.Equal(t, clinic, *got[0].ClinicID)
	assert.Nil(t, got[1].Consultation)
	require.NoError(t, mock.ExpectationsWereMet())
}
