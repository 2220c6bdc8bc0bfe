package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/etiba/appointment-scheduling/internal/schedule"
)

const (
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 240
	DefaultDurationMinutes = 30
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

var allStatuses = []Status{
	StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
	StatusCancelled, StatusNoShow, StatusRescheduled,
}

// ActiveStatuses still occupy the doctor's calendar.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Active() bool {
	for _, v := range ActiveStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Kind string

const (
	KindConsultation   Kind = "consultation"
	KindFollowUp       Kind = "follow_up"
	KindEmergency      Kind = "emergency"
	KindRoutineCheckup Kind = "routine_checkup"
	KindProcedure      Kind = "procedure"
	KindTestResults    Kind = "test_results"
)

func (k Kind) Valid() bool {
	switch k {
	case KindConsultation, KindFollowUp, KindEmergency, KindRoutineCheckup, KindProcedure, KindTestResults:
		return true
	}
	return false
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

// Actor is an already-authenticated caller. ID is the user id.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Doctor struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	FullName string
	Timezone string
}

type Patient struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	FullName string
	Email    *string
}

type Appointment struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Start           time.Time `json:"appointment_datetime"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	Kind            Kind      `json:"appointment_type"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes"`
	DoctorNotes     string    `json:"doctor_notes"`
	Symptoms        string    `json:"symptoms"`
	IsUrgent        bool      `json:"is_urgent"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (a Appointment) End() time.Time {
	return schedule.EndOf(a.Start, a.DurationMinutes)
}

// CanBeCancelled is false once the appointment started or reached a terminal
// status.
func (a Appointment) CanBeCancelled(now time.Time) bool {
	if !a.Start.After(now) {
		return false
	}
	switch a.Status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return false
	}
	return true
}

// StatusHistoryEntry is immutable. PreviousStatus is nil only for the entry
// written when the appointment was created.
type StatusHistoryEntry struct {
	ID             int64      `json:"id"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	PreviousStatus *Status    `json:"previous_status"`
	NewStatus      Status     `json:"new_status"`
	ChangedBy      *uuid.UUID `json:"changed_by"`
	Reason         string     `json:"reason"`
	ChangedAt      time.Time  `json:"changed_at"`
}

// ListFilter narrows ListAppointments. Zero values mean "any".
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
