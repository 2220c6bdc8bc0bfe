package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/etiba/appointment-scheduling/internal/schedule"
)

// Directory resolves doctors and patients. The core never mutates them.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
}

// ScheduleStore holds weekly slots and unavailability periods.
type ScheduleStore interface {
	// ActiveWeeklySlot returns nil, nil when the doctor has no active slot
	// for the weekday.
	ActiveWeeklySlot(ctx context.Context, doctorID uuid.UUID, day schedule.Weekday) (*schedule.WeeklySlot, error)
	ListWeeklySlots(ctx context.Context, doctorID uuid.UUID) ([]schedule.WeeklySlot, error)
	// ReplaceWeeklySlots deletes every slot of the doctor and inserts the
	// given set. Callers dedupe by day first.
	ReplaceWeeklySlots(ctx context.Context, doctorID uuid.UUID, slots []schedule.WeeklySlot) ([]schedule.WeeklySlot, error)

	UnavailabilityCovering(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.UnavailabilityPeriod, error)
	ListUnavailability(ctx context.Context, doctorID uuid.UUID) ([]schedule.UnavailabilityPeriod, error)
	CreateUnavailability(ctx context.Context, p *schedule.UnavailabilityPeriod) error
	DeleteUnavailability(ctx context.Context, doctorID, periodID uuid.UUID) error
}

// BookingReader feeds the availability resolver.
type BookingReader interface {
	// ActiveAppointments returns the doctor's appointments in an active
	// status whose [start, end) intersects [from, to). A zero from means no
	// lower bound.
	ActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]Appointment, error)
}

// AppointmentStore persists appointments. Create and Update fail with
// ErrConstraintViolation when another appointment of the same doctor already
// starts at the exact same instant.
type AppointmentStore interface {
	BookingReader

	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetAppointmentForUpdate row-locks the appointment for the rest of the
	// enclosing transaction.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)
}

type HistoryStore interface {
	InsertStatusHistory(ctx context.Context, e *StatusHistoryEntry) error
	// ListStatusHistory returns entries newest first.
	ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error)
}

// Repository contains all DB interactions needed by the service. WithTx runs
// fn in one transaction; every store call made with the ctx passed to fn
// joins it.
type Repository interface {
	Directory
	ScheduleStore
	AppointmentStore
	HistoryStore

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
