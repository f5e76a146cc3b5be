package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/changefeed"
	"github.com/hackgods/clinic-booking/internal/tenancy"
	"github.com/hackgods/clinic-booking/internal/waitlist"
)

const (
	feedAppointments = "appointments"
	feedWaitlist     = "waitlist"
)

type streamHandlers struct {
	streamer     *changefeed.Streamer
	upgrader     *websocket.Upgrader
	appointments changefeed.AppointmentLister
	waitlist     changefeed.WaitlistLister
}

func renderAppointment(a appointment.Appointment) any { return toAppointmentResponse(a) }
func renderEntry(e waitlist.Entry) any                { return toEntryResponse(e) }

// source resolves the feed query. Authorisation is the read path's: the
// first refresh fails the same way a list call would.
func (h streamHandlers) source(w http.ResponseWriter, r *http.Request, caller tenancy.Caller, feed string) (changefeed.Source, bool) {
	q := r.URL.Query()
	switch feed {
	case feedAppointments:
		doctorID := caller.UserID
		if raw := q.Get("doctor_id"); raw != "" {
			var ok bool
			if doctorID, ok = parseUUID(w, raw, "doctor_id"); !ok {
				return nil, false
			}
		} else if caller.Role != tenancy.RoleDoctor {
			writeError(w, http.StatusBadRequest, "missing_filter", "doctor_id is required")
			return nil, false
		}
		return changefeed.AppointmentSource(h.appointments, caller, doctorID, renderAppointment), true
	default:
		scope, ok := scopeFromQuery(w, r)
		if !ok {
			return nil, false
		}
		return changefeed.WaitlistSource(h.waitlist, caller, scope.ClinicID, scope.DoctorID, renderEntry), true
	}
}

// precheck runs one fetch before the response is committed, so a caller who
// may not read the feed gets a plain error status instead of a stream.
func precheck(ctx context.Context, w http.ResponseWriter, r *http.Request, src changefeed.Source) bool {
	if _, err := src.Fetch(ctx); err != nil {
		writeServiceError(w, r, err)
		return false
	}
	return true
}

func (h streamHandlers) sse(feed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		src, ok := h.source(w, r, caller, feed)
		if !ok || !precheck(r.Context(), w, r, src) {
			return
		}
		sink, err := changefeed.NewSSESink(w)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", err.Error())
			return
		}
		if err := h.streamer.Serve(r.Context(), feed, src, sink); err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Str("feed", feed).Msg("sse stream ended")
		}
	}
}

func (h streamHandlers) ws(feed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}
		src, ok := h.source(w, r, caller, feed)
		if !ok || !precheck(r.Context(), w, r, src) {
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}
		sink := changefeed.NewWebSocketSink(conn)
		defer sink.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sink.WatchClose(cancel)

		if err := h.streamer.Serve(ctx, feed, src, sink); err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Str("feed", feed).Msg("websocket stream ended")
		}
	}
}
