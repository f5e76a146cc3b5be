package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/tenancy"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	Contenders      int
	ContendRatio    float64
	WaitlistRatio   float64
	ReadRatio       float64
	PatientLimit    int
	DoctorLimit     int
	TenantID        string
	PostgresDSN     string
	JWTSecret       string
	HorizonDays     int
	SlotGranularity time.Duration
}

// DataPool is the directory slice the workload draws from.
type DataPool struct {
	TenantID uuid.UUID
	Patients []uuid.UUID
	Doctors  []uuid.UUID
}

// Issuer mints bearer tokens for simulated callers.
type Issuer interface {
	Issue(caller tenancy.Caller, ttl time.Duration) (string, error)
}

type Simulator struct {
	config SimConfig
	pool   *DataPool
	client *http.Client
	issuer Issuer
	logger zerolog.Logger

	tokens sync.Map // uuid.UUID -> string

	Booking    OperationMetrics
	Waitlist   OperationMetrics
	ReadByUser OperationMetrics
	Contention ContentionMetrics
}

func NewSimulator(cfg SimConfig, pool *DataPool, issuer Issuer, client *http.Client, logger zerolog.Logger) *Simulator {
	return &Simulator{config: cfg, pool: pool, client: client, issuer: issuer, logger: logger}
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.ContendRatio:
			s.ContendForSlot(ctx, rng)
		case r < s.config.ContendRatio+s.config.WaitlistRatio:
			s.joinWaitlist(ctx, rng)
		default:
			s.listOwnAppointments(ctx, rng)
		}
	}
}

// ContendForSlot fires Contenders concurrent bookings, each from a
// different patient, at one doctor and time, and records how many won.
func (s *Simulator) ContendForSlot(ctx context.Context, rng *rand.Rand) int {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	slot := s.randomSlot(rng)

	n := min(s.config.Contenders, len(s.pool.Patients))
	patients := make([]uuid.UUID, n)
	for i, idx := range rng.Perm(len(s.pool.Patients))[:n] {
		patients[i] = s.pool.Patients[idx]
	}

	var (
		mu      sync.Mutex
		winners int
		wg      sync.WaitGroup
		start   = make(chan struct{})
	)
	for _, patientID := range patients {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-start
			status, latency, err := s.do(ctx, patientID, tenancy.RolePatient, http.MethodPost, "/v1/appointments", api.BookAppointmentRequest{
				PatientID:   patientID.String(),
				DoctorID:    doctorID.String(),
				ScheduledAt: slot,
				Mode:        "in-person",
			})
			if ctx.Err() != nil {
				return
			}
			won := err == nil && status == http.StatusCreated
			s.Booking.Record(latency, won, status == http.StatusConflict)
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(patientID)
	}
	close(start)
	wg.Wait()

	if ctx.Err() == nil {
		s.Contention.RecordRound(winners)
		if winners > 1 {
			s.logger.Error().Str("doctor_id", doctorID.String()).Time("slot", slot).Int("winners", winners).Msg("double booking observed")
		}
	}
	return winners
}

func (s *Simulator) joinWaitlist(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	status, latency, err := s.do(ctx, patientID, tenancy.RolePatient, http.MethodPost, "/v1/waitlist", api.EnqueueRequest{
		PatientID: patientID.String(),
		DoctorID:  doctorID.String(),
	})
	if ctx.Err() != nil {
		return
	}
	s.Waitlist.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) listOwnAppointments(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	status, latency, err := s.do(ctx, patientID, tenancy.RolePatient, http.MethodGet, "/v1/appointments", nil)
	if ctx.Err() != nil {
		return
	}
	s.ReadByUser.Record(latency, err == nil && status == http.StatusOK, false)
}

// randomSlot picks an aligned future time so rounds sometimes collide with
// earlier ones.
func (s *Simulator) randomSlot(rng *rand.Rand) time.Time {
	step := s.config.SlotGranularity
	if step <= 0 {
		step = 15 * time.Minute
	}
	horizon := time.Duration(max(s.config.HorizonDays, 1)) * 24 * time.Hour
	base := time.Now().UTC().Add(time.Hour).Truncate(step)
	return base.Add(time.Duration(rng.Int63n(int64(horizon/step))) * step)
}

func (s *Simulator) token(userID uuid.UUID, role tenancy.Role) (string, error) {
	if tok, ok := s.tokens.Load(userID); ok {
		return tok.(string), nil
	}
	tok, err := s.issuer.Issue(tenancy.Caller{TenantID: s.pool.TenantID, UserID: userID, Role: role}, s.config.Duration+time.Hour)
	if err != nil {
		return "", err
	}
	s.tokens.Store(userID, tok)
	return tok, nil
}

func (s *Simulator) do(ctx context.Context, userID uuid.UUID, role tenancy.Role, method, path string, body any) (int, time.Duration, error) {
	tok, err := s.token(userID, role)
	if err != nil {
		return 0, 0, fmt.Errorf("issue token: %w", err)
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, payload)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport(w io.Writer) {
	line := bytes.Repeat([]byte("="), 80)
	fmt.Fprintf(w, "\n%s\nSIMULATION REPORT\n%s\n", line, line)
	fmt.Fprintf(w, "Duration: %s\nWorkers: %d\nContenders per slot: %d\n\n", s.config.Duration, s.config.Workers, s.config.Contenders)

	s.Booking.Report(w, "Booking")
	s.Waitlist.Report(w, "Waitlist join")
	s.ReadByUser.Report(w, "List own appointments")

	fmt.Fprintf(w, "Slot races:\n  Rounds: %d\n  Won by exactly one: %d\n  Slot already taken: %d\n  Double bookings: %d\n\n",
		s.Contention.Rounds.Load(), s.Contention.Won.Load(), s.Contention.AlreadyGone.Load(), s.Contention.Violations.Load())
}
