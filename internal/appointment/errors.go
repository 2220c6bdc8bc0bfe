package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDoctorNotAvailable  = errors.New("doctor is not available at the requested time")
	ErrConstraintViolation = errors.New("time slot is no longer available")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")

	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrPeriodNotFound      = fmt.Errorf("unavailability period %w", ErrNotFound)
)

// Reason says which availability rule rejected a proposal.
type Reason string

const (
	ReasonNoSchedule        Reason = "no_schedule"
	ReasonOutsideHours      Reason = "outside_hours"
	ReasonBreakConflict     Reason = "break_conflict"
	ReasonUnavailablePeriod Reason = "unavailable_period"
	ReasonBookingConflict   Reason = "booking_conflict"
)

// NotAvailableError matches ErrDoctorNotAvailable with errors.Is.
type NotAvailableError struct {
	Reason Reason
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrDoctorNotAvailable.Error(), e.Reason)
}

func (e *NotAvailableError) Is(target error) bool {
	return target == ErrDoctorNotAvailable
}

// ReasonOf extracts the rejection reason, if err carries one.
func ReasonOf(err error) (Reason, bool) {
	var na *NotAvailableError
	if errors.As(err, &na) {
		return na.Reason, true
	}
	return "", false
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
