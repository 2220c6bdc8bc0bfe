package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/etiba/appointment-scheduling/internal/appointment"
	"github.com/etiba/appointment-scheduling/internal/notification"
	"github.com/etiba/appointment-scheduling/internal/schedule"
)

// Scheduler is the subset of *appointment.Service the HTTP layer drives.
type Scheduler interface {
	ProposeAppointment(ctx context.Context, req appointment.ProposeRequest, actor appointment.Actor) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, req appointment.UpdateRequest, actor appointment.Actor) (*appointment.Appointment, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, status appointment.Status, reason string, actor appointment.Actor) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor appointment.Actor) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter, actor appointment.Actor) ([]appointment.Appointment, error)
	StatusHistory(ctx context.Context, id uuid.UUID, actor appointment.Actor) ([]appointment.StatusHistoryEntry, error)
	CheckAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) ([]string, error)

	ReplaceWeeklySlots(ctx context.Context, doctorID uuid.UUID, slots []schedule.WeeklySlot, actor appointment.Actor) ([]schedule.WeeklySlot, error)
	WeeklySlots(ctx context.Context, doctorID uuid.UUID) ([]schedule.WeeklySlot, error)
	AddUnavailability(ctx context.Context, p schedule.UnavailabilityPeriod, actor appointment.Actor) (*schedule.UnavailabilityPeriod, error)
	ListUnavailability(ctx context.Context, doctorID uuid.UUID) ([]schedule.UnavailabilityPeriod, error)
	DeleteUnavailability(ctx context.Context, doctorID, periodID uuid.UUID, actor appointment.Actor) error
}

// Inbox is the caller's notification feed; *notification.PgStore implements it.
type Inbox interface {
	Unread(ctx context.Context, recipientID uuid.UUID, limit int) ([]notification.Event, error)
	MarkRead(ctx context.Context, recipientID, eventID uuid.UUID, read bool) error
}

const defaultInboxLimit = 50

func proposeAppointmentHandler(svc Scheduler, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProposeAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var patientID *uuid.UUID
		if req.PatientID != nil {
			id, err := uuid.Parse(*req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = &id
		}

		appt, err := svc.ProposeAppointment(r.Context(), appointment.ProposeRequest{
			PatientID:       patientID,
			DoctorID:        doctorID,
			Start:           req.AppointmentDatetime,
			DurationMinutes: req.DurationMinutes,
			Kind:            appointment.Kind(req.AppointmentType),
			Reason:          req.Reason,
			Notes:           req.Notes,
			Symptoms:        req.Symptoms,
			IsUrgent:        req.IsUrgent,
		}, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, now()))
	}
}

func listAppointmentsHandler(svc Scheduler, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseListFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		appts, err := svc.ListAppointments(r.Context(), f, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		at := now()
		resp := ListAppointmentsResponse{Results: make([]AppointmentResponse, 0, len(appts)), Count: len(appts)}
		for i := range appts {
			resp.Results = append(resp.Results, toAppointmentResponse(&appts[i], at))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc Scheduler, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, now()))
	}
}

func updateAppointmentHandler(svc Scheduler, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		upd := appointment.UpdateRequest{
			Start:           req.AppointmentDatetime,
			DurationMinutes: req.DurationMinutes,
			StatusReason:    req.StatusReason,
			Reason:          req.Reason,
			Notes:           req.Notes,
			DoctorNotes:     req.DoctorNotes,
			Symptoms:        req.Symptoms,
			IsUrgent:        req.IsUrgent,
		}
		if req.Status != nil {
			st := appointment.Status(*req.Status)
			upd.Status = &st
		}
		if req.AppointmentType != nil {
			k := appointment.Kind(*req.AppointmentType)
			upd.Kind = &k
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, upd, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, now()))
	}
}

func changeStatusHandler(svc Scheduler, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req ChangeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.ChangeStatus(r.Context(), id, appointment.Status(req.Status), req.Reason, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, now()))
	}
}

func cancelAppointmentHandler(svc Scheduler, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, r.URL.Query().Get("reason"), actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, now()))
	}
}

func statusHistoryHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		history, err := svc.StatusHistory(r.Context(), id, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if history == nil {
			history = []appointment.StatusHistoryEntry{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func availabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		doctorID, err := uuid.Parse(q.Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, err := schedule.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		duration := appointment.DefaultDurationMinutes
		if raw := q.Get("duration"); raw != "" {
			if duration, err = strconv.Atoi(raw); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
				return
			}
		}

		slots, err := svc.CheckAvailability(r.Context(), doctorID, date, duration)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			DoctorID:        doctorID,
			Date:            date.Format(time.DateOnly),
			DurationMinutes: duration,
			AvailableSlots:  slots,
		})
	}
}

func weeklySlotsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		slots, err := svc.WeeklySlots(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, WeeklySlotsRequest{Slots: nonNil(slots)})
	}
}

func replaceWeeklySlotsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		var req WeeklySlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		saved, err := svc.ReplaceWeeklySlots(r.Context(), doctorID, req.Slots, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, WeeklySlotsRequest{Slots: nonNil(saved)})
	}
}

func listUnavailabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		periods, err := svc.ListUnavailability(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]UnavailabilityResponse, 0, len(periods))
		for _, p := range periods {
			resp = append(resp, toUnavailabilityResponse(p))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addUnavailabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		var req UnavailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err := schedule.ParseDate(req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", "start_date must be YYYY-MM-DD")
			return
		}
		end, err := schedule.ParseDate(req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", "end_date must be YYYY-MM-DD")
			return
		}

		p, err := svc.AddUnavailability(r.Context(), schedule.UnavailabilityPeriod{
			DoctorID:  doctorID,
			StartDate: start,
			EndDate:   end,
			Reason:    req.Reason,
		}, actorFrom(r.Context()))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toUnavailabilityResponse(*p))
	}
}

func deleteUnavailabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}
		periodID, ok := pathUUID(w, r, "periodID", "invalid_period_id")
		if !ok {
			return
		}

		if err := svc.DeleteUnavailability(r.Context(), doctorID, periodID, actorFrom(r.Context())); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func notificationsHandler(inbox Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultInboxLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
				return
			}
			limit = min(n, 100)
		}

		events, err := inbox.Unread(r.Context(), actorFrom(r.Context()).ID, limit)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if events == nil {
			events = []notification.Event{}
		}
		writeJSON(w, http.StatusOK, NotificationsResponse{Results: events})
	}
}

func markNotificationHandler(inbox Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, ok := pathUUID(w, r, "id", "invalid_notification_id")
		if !ok {
			return
		}

		var req MarkNotificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Read == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", `body must be {"read": true|false}`)
			return
		}

		err := inbox.MarkRead(r.Context(), actorFrom(r.Context()).ID, eventID, *req.Read)
		switch {
		case errors.Is(err, notification.ErrNotFound):
			writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
		case err != nil:
			handleServiceError(w, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func parseListFilter(r *http.Request) (appointment.ListFilter, error) {
	q := r.URL.Query()
	var f appointment.ListFilter

	for _, p := range []struct {
		key string
		dst **uuid.UUID
	}{{"patient_id", &f.PatientID}, {"doctor_id", &f.DoctorID}} {
		if raw := q.Get(p.key); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return f, errors.New(p.key + " must be a valid UUID")
			}
			*p.dst = &id
		}
	}

	if raw := q.Get("status"); raw != "" {
		st := appointment.Status(raw)
		if !st.Valid() {
			return f, errors.New("unknown status " + strconv.Quote(raw))
		}
		f.Status = &st
	}

	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if raw := q.Get(p.key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return f, errors.New(p.key + " must be an RFC 3339 timestamp")
			}
			*p.dst = &t
		}
	}

	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if raw := q.Get(p.key); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return f, errors.New(p.key + " must be a non-negative integer")
			}
			*p.dst = n
		}
	}
	return f, nil
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotAvailable):
		reason, _ := appointment.ReasonOf(err)
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "doctor_not_available",
			Details: err.Error(),
			Reason:  string(reason),
		})
	case errors.Is(err, appointment.ErrConstraintViolation):
		writeError(w, http.StatusConflict, "slot_unavailable", "time slot is no longer available, please pick another")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
