package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/etiba/appointment-scheduling/internal/appointment"
	"github.com/etiba/appointment-scheduling/internal/notification"
	"github.com/etiba/appointment-scheduling/internal/schedule"
)

type ProposeAppointmentRequest struct {
	PatientID           *string   `json:"patient_id"`
	DoctorID            string    `json:"doctor_id"`
	AppointmentDatetime time.Time `json:"appointment_datetime"`
	DurationMinutes     int       `json:"duration_minutes"`
	AppointmentType     string    `json:"appointment_type"`
	Reason              string    `json:"reason"`
	Notes               string    `json:"notes"`
	Symptoms            string    `json:"symptoms"`
	IsUrgent            bool      `json:"is_urgent"`
}

type UpdateAppointmentRequest struct {
	AppointmentDatetime *time.Time `json:"appointment_datetime"`
	DurationMinutes     *int       `json:"duration_minutes"`
	Status              *string    `json:"status"`
	StatusReason        string     `json:"status_reason"`
	AppointmentType     *string    `json:"appointment_type"`
	Reason              *string    `json:"reason"`
	Notes               *string    `json:"notes"`
	DoctorNotes         *string    `json:"doctor_notes"`
	Symptoms            *string    `json:"symptoms"`
	IsUrgent            *bool      `json:"is_urgent"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID `json:"id"`
	PatientID           uuid.UUID `json:"patient_id"`
	DoctorID            uuid.UUID `json:"doctor_id"`
	AppointmentDatetime time.Time `json:"appointment_datetime"`
	EndDatetime         time.Time `json:"end_datetime"`
	DurationMinutes     int       `json:"duration_minutes"`
	Status              string    `json:"status"`
	AppointmentType     string    `json:"appointment_type"`
	Reason              string    `json:"reason"`
	Notes               string    `json:"notes"`
	DoctorNotes         string    `json:"doctor_notes"`
	Symptoms            string    `json:"symptoms"`
	IsUrgent            bool      `json:"is_urgent"`
	CanBeCancelled      bool      `json:"can_be_cancelled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment, now time.Time) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		DoctorID:            a.DoctorID,
		AppointmentDatetime: a.Start,
		EndDatetime:         a.End(),
		DurationMinutes:     a.DurationMinutes,
		Status:              string(a.Status),
		AppointmentType:     string(a.Kind),
		Reason:              a.Reason,
		Notes:               a.Notes,
		DoctorNotes:         a.DoctorNotes,
		Symptoms:            a.Symptoms,
		IsUrgent:            a.IsUrgent,
		CanBeCancelled:      a.CanBeCancelled(now),
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type ListAppointmentsResponse struct {
	Results []AppointmentResponse `json:"results"`
	Count   int                   `json:"count"`
}

type AvailabilityResponse struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            string    `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	AvailableSlots  []string  `json:"available_slots"`
}

type WeeklySlotsRequest struct {
	Slots []schedule.WeeklySlot `json:"slots"`
}

type UnavailabilityRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Reason    string `json:"reason"`
}

type UnavailabilityResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Reason    string    `json:"reason"`
}

func toUnavailabilityResponse(p schedule.UnavailabilityPeriod) UnavailabilityResponse {
	return UnavailabilityResponse{
		ID:        p.ID,
		DoctorID:  p.DoctorID,
		StartDate: p.StartDate.Format(time.DateOnly),
		EndDate:   p.EndDate.Format(time.DateOnly),
		Reason:    p.Reason,
	}
}

type NotificationsResponse struct {
	Results []notification.Event `json:"results"`
}

type MarkNotificationRequest struct {
	Read *bool `json:"read"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
