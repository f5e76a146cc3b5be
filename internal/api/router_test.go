package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/changefeed"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/tenancy"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

const testSecret = "test-secret"

type apiHarness struct {
	handler http.Handler
	auth    *Authenticator
	appts   *fakeAppointments
	wl      *fakeWaitlist
	tenant  uuid.UUID
}

func newAPIHarness(t *testing.T, opts ...func(*RouterConfig)) *apiHarness {
	t.Helper()
	h := &apiHarness{
		auth:   NewAuthenticator(testSecret),
		appts:  &fakeAppointments{},
		wl:     &fakeWaitlist{},
		tenant: uuid.New(),
	}
	reg := prometheus.NewRegistry()
	cfg := RouterConfig{
		Appointments:       h.appts,
		Waitlist:           h.wl,
		Streamer:           changefeed.NewStreamer(changefeed.Options{Logger: zerolog.Nop(), Metrics: metrics.New(reg)}),
		Health:             NewHealthHandler(nil, nil, "test", "v0"),
		Auth:               h.auth,
		Gatherer:           reg,
		Logger:             zerolog.Nop(),
		CORSAllowedOrigins: []string{"*"},
	}
	for _, fn := range opts {
		fn(&cfg)
	}
	h.handler = NewRouter(cfg)
	return h
}

func (h *apiHarness) caller(role tenancy.Role) tenancy.Caller {
	return tenancy.Caller{TenantID: h.tenant, UserID: uuid.New(), Role: role}
}

func (h *apiHarness) do(t *testing.T, caller *tenancy.Caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		token, err := h.auth.Issue(*caller, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRequiresBearerToken(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, nil, http.MethodGet, "/v1/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/v1/appointments/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRejectsTokensAuthenticateCannotTrust(t *testing.T) {
	h := newAPIHarness(t)

	expired, err := h.auth.Issue(h.caller(tenancy.RoleAdmin), -time.Minute)
	require.NoError(t, err)
	_, err = h.auth.Parse(expired)
	assert.Error(t, err)

	system, err := h.auth.Issue(tenancy.SystemCaller(h.tenant), time.Hour)
	require.NoError(t, err)
	_, err = h.auth.Parse(system)
	assert.Error(t, err)

	forged, err := NewAuthenticator("other").Issue(h.caller(tenancy.RoleAdmin), time.Hour)
	require.NoError(t, err)
	_, err = h.auth.Parse(forged)
	assert.Error(t, err)

	c := h.caller(tenancy.RoleDoctor)
	good, err := h.auth.Issue(c, time.Hour)
	require.NoError(t, err)
	got, err := h.auth.Parse(good)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestBookAppointment(t *testing.T) {
	h := newAPIHarness(t)
	patient := h.caller(tenancy.RolePatient)
	doctor := uuid.New()
	at := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)

	var gotCaller tenancy.Caller
	var gotReq appointment.BookingRequest
	h.appts.book = func(c tenancy.Caller, req appointment.BookingRequest) (*appointment.Appointment, error) {
		gotCaller, gotReq = c, req
		return &appointment.Appointment{
			ID: uuid.New(), PatientID: c.UserID, DoctorID: req.DoctorID, ScheduledAt: req.ScheduledAt,
			Mode: req.Mode, Status: appointment.StatusConfirmed,
		}, nil
	}

	rec := h.do(t, &patient, http.MethodPost, "/v1/appointments", BookAppointmentRequest{
		DoctorID: doctor.String(), ScheduledAt: at, Mode: "remote",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "confirmed", out.Status)
	assert.Equal(t, patient.UserID, out.PatientID)
	assert.Equal(t, patient, gotCaller)
	assert.Equal(t, doctor, gotReq.DoctorID)
	assert.Equal(t, appointment.ModeRemote, gotReq.Mode)
	assert.Nil(t, gotReq.ClinicID)
	assert.True(t, at.Equal(gotReq.ScheduledAt))
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"slot taken", appointment.ErrSlotTaken, http.StatusConflict, "slot_taken"},
		{"waitlist full", waitlist.ErrFull.Withf("waitlist is full (2 of 2)"), http.StatusConflict, "waitlist_full"},
		{"not found", appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{"forbidden", appointment.ErrBookForOthers, http.StatusForbidden, "not_owner"},
		{"past", appointment.ErrNotInFuture, http.StatusBadRequest, "scheduled_in_past"},
		{"lock store down", fmt.Errorf("book: %w", appointment.ErrPaymentUnavailable), http.StatusServiceUnavailable, ""},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			admin := h.caller(tenancy.RoleAdmin)
			h.appts.get = func(tenancy.Caller, uuid.UUID) (*appointment.Appointment, error) { return nil, tt.err }

			rec := h.do(t, &admin, http.MethodGet, "/v1/appointments/"+uuid.NewString(), nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			if tt.code != "" {
				assert.Equal(t, tt.code, body.Error)
			}
			assert.NotEmpty(t, body.Details)
			assert.NotContains(t, body.Details, "boom")
		})
	}
}

func TestSlotTakenBody(t *testing.T) {
	h := newAPIHarness(t)
	patient := h.caller(tenancy.RolePatient)
	h.appts.book = func(tenancy.Caller, appointment.BookingRequest) (*appointment.Appointment, error) {
		return nil, appointment.ErrSlotTaken
	}
	rec := h.do(t, &patient, http.MethodPost, "/v1/appointments", BookAppointmentRequest{
		DoctorID: uuid.NewString(), ScheduledAt: time.Now().Add(time.Hour), Mode: "in-person",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"slot_taken","details":"slot no longer available"}`, rec.Body.String())
}

func TestBadInputIsRejectedBeforeTheService(t *testing.T) {
	h := newAPIHarness(t)
	admin := h.caller(tenancy.RoleAdmin)

	rec := h.do(t, &admin, http.MethodGet, "/v1/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Error)

	rec = h.do(t, &admin, http.MethodPost, "/v1/appointments", map[string]any{"doctor_id": uuid.NewString(), "surprise": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)

	rec = h.do(t, &admin, http.MethodPost, "/v1/appointments/"+uuid.NewString()+"/status", AppointmentStatusRequest{Status: "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, &admin, http.MethodGet, "/v1/appointments?doctor_id="+uuid.NewString()+"&from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_from", decodeError(t, rec).Error)
}

func TestStatusRouteChoosesPaymentConfirmation(t *testing.T) {
	h := newAPIHarness(t)
	admin := h.caller(tenancy.RoleAdmin)
	id := uuid.New()

	var confirmedRef string
	h.appts.confirm = func(_ tenancy.Caller, _ uuid.UUID, ref string) (*appointment.Appointment, error) {
		confirmedRef = ref
		return &appointment.Appointment{ID: id, Status: appointment.StatusConfirmed}, nil
	}
	var transitioned appointment.Status
	var reason string
	h.appts.transition = func(_ tenancy.Caller, _ uuid.UUID, to appointment.Status, r string) (*appointment.Appointment, error) {
		transitioned, reason = to, r
		return &appointment.Appointment{ID: id, Status: to}, nil
	}

	rec := h.do(t, &admin, http.MethodPost, "/v1/appointments/"+id.String()+"/status", AppointmentStatusRequest{Status: "confirmed", PaymentReference: "pi_9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pi_9", confirmedRef)
	assert.Empty(t, transitioned)

	rec = h.do(t, &admin, http.MethodPost, "/v1/appointments/"+id.String()+"/status", AppointmentStatusRequest{Status: "cancelled", Reason: "sick"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.StatusCancelled, transitioned)
	assert.Equal(t, "sick", reason)
}

func TestWaitlistRoutes(t *testing.T) {
	h := newAPIHarness(t)
	admin := h.caller(tenancy.RoleAdmin)
	clinic := uuid.New()

	var filter waitlist.ListFilter
	h.wl.list = func(_ tenancy.Caller, f waitlist.ListFilter) ([]waitlist.Entry, error) {
		filter = f
		return []waitlist.Entry{{ID: uuid.New(), Status: waitlist.StatusActive}}, nil
	}
	rec := h.do(t, &admin, http.MethodGet, "/v1/waitlist?clinic_id="+clinic.String()+"&status=active&status=invited", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, &clinic, filter.Scope.ClinicID)
	assert.Nil(t, filter.Scope.DoctorID)
	assert.Equal(t, []waitlist.Status{waitlist.StatusActive, waitlist.StatusInvited}, filter.Statuses)

	h.wl.bulk = func(_ tenancy.Caller, ids []uuid.UUID, to waitlist.Status) (waitlist.BulkResult, error) {
		return waitlist.BulkResult{Matched: len(ids), Modified: 1}, nil
	}
	rec = h.do(t, &admin, http.MethodPost, "/v1/waitlist/bulk-status", BulkStatusRequest{IDs: []uuid.UUID{uuid.New(), uuid.New()}, Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"matched":2,"modified":1}`, rec.Body.String())

	h.wl.sweep = func(tenancy.Caller) (int, error) { return 3, nil }
	rec = h.do(t, &admin, http.MethodPost, "/v1/waitlist/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired":3}`, rec.Body.String())

	rec = h.do(t, &admin, http.MethodGet, "/v1/waitlist/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var policy PolicyPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, 250, policy.MaxQueueSize)

	h.wl.promote = func(tenancy.Caller, uuid.UUID, uuid.UUID) (*waitlist.Entry, error) {
		return nil, waitlist.ErrAlreadyTerminal
	}
	rec = h.do(t, &admin, http.MethodPost, "/v1/waitlist/"+uuid.NewString()+"/promote", PromoteRequest{AppointmentID: uuid.NewString()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decodeError(t, rec).Error)

	h.wl.enqueue = func(tenancy.Caller, waitlist.EnqueueRequest) (*waitlist.Entry, error) {
		return nil, waitlist.ErrDuplicate
	}
	patient := h.caller(tenancy.RolePatient)
	rec = h.do(t, &patient, http.MethodPost, "/v1/waitlist", EnqueueRequest{ClinicID: clinic.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "waitlist_duplicate", decodeError(t, rec).Error)
}

func TestRateLimitPerCaller(t *testing.T) {
	h := newAPIHarness(t, func(c *RouterConfig) { c.Limiter = NewRateLimiter(0.001, 2) })
	h.appts.get = func(tenancy.Caller, uuid.UUID) (*appointment.Appointment, error) {
		return &appointment.Appointment{}, nil
	}
	noisy := h.caller(tenancy.RoleAdmin)
	quiet := h.caller(tenancy.RoleAdmin)
	path := "/v1/appointments/" + uuid.NewString()

	assert.Equal(t, http.StatusOK, h.do(t, &noisy, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, &noisy, http.MethodGet, path, nil).Code)
	rec := h.do(t, &noisy, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, h.do(t, &quiet, http.MethodGet, path, nil).Code)
}

func TestHealth(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("down") })
	up := PingFunc(func(context.Context) error { return nil })

	tests := []struct {
		name     string
		pg, rd   Pinger
		status   int
		expected string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusServiceUnavailable, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t, func(c *RouterConfig) { c.Health = NewHealthHandler(tt.pg, tt.rd, "test", "v1") })
			rec := h.do(t, nil, http.MethodGet, "/health/ready", nil)
			assert.Equal(t, tt.status, rec.Code)
			var out ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, tt.expected, out.Status)
		})
	}

	h := newAPIHarness(t)
	rec := h.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWaitlistSSEStream(t *testing.T) {
	h := newAPIHarness(t)
	entry := waitlist.Entry{ID: uuid.New(), Status: waitlist.StatusActive}
	h.wl.list = func(tenancy.Caller, waitlist.ListFilter) ([]waitlist.Entry, error) {
		return []waitlist.Entry{entry}, nil
	}

	token, err := h.auth.Issue(h.caller(tenancy.RoleDoctor), time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream/waitlist?access_token="+token, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: created")
	assert.Contains(t, body, entry.ID.String())
	assert.Equal(t, 1, strings.Count(body, "event: created"))
}

func TestStreamRejectsCallerWithoutReadAccess(t *testing.T) {
	h := newAPIHarness(t)
	h.wl.list = func(tenancy.Caller, waitlist.ListFilter) ([]waitlist.Entry, error) {
		return nil, waitlist.ErrStaffOnly
	}
	patient := h.caller(tenancy.RolePatient)
	rec := h.do(t, &patient, http.MethodGet, "/v1/stream/waitlist", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "staff_only", decodeError(t, rec).Error)
}

func TestAccessTokenQueryOnlyForStreams(t *testing.T) {
	h := newAPIHarness(t)
	token, err := h.auth.Issue(h.caller(tenancy.RoleAdmin), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/appointments/"+uuid.NewString()+"?access_token="+token, nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
