package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSlot   = errors.New("invalid weekly slot")
	ErrInvalidPeriod = errors.New("invalid unavailability period")
)

// WeeklySlot is a doctor's working window for one weekday, with an optional
// break inside it.
type WeeklySlot struct {
	ID         uuid.UUID  `json:"id"`
	DoctorID   uuid.UUID  `json:"doctor_id"`
	Day        Weekday    `json:"day_of_week"`
	Start      TimeOfDay  `json:"start_time"`
	End        TimeOfDay  `json:"end_time"`
	BreakStart *TimeOfDay `json:"break_start,omitempty"`
	BreakEnd   *TimeOfDay `json:"break_end,omitempty"`
	Active     bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s WeeklySlot) Window() Span {
	return Span{Start: s.Start, End: s.End}
}

// Break returns the break window, if both bounds are set.
func (s WeeklySlot) Break() (Span, bool) {
	if s.BreakStart == nil || s.BreakEnd == nil {
		return Span{}, false
	}
	return Span{Start: *s.BreakStart, End: *s.BreakEnd}, true
}

func (s WeeklySlot) Validate() error {
	if !s.Day.Valid() {
		return fmt.Errorf("%w: day_of_week %d out of range 0-6", ErrInvalidSlot, int(s.Day))
	}
	if s.Start >= s.End {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSlot)
	}
	switch {
	case s.BreakStart == nil && s.BreakEnd == nil:
		return nil
	case s.BreakStart == nil:
		return fmt.Errorf("%w: break start is required when break end is set", ErrInvalidSlot)
	case s.BreakEnd == nil:
		return fmt.Errorf("%w: break end is required when break start is set", ErrInvalidSlot)
	}
	br, _ := s.Break()
	if br.Start >= br.End {
		return fmt.Errorf("%w: break end must be after break start", ErrInvalidSlot)
	}
	if !s.Window().Contains(br) {
		return fmt.Errorf("%w: break %s must be within working hours %s", ErrInvalidSlot, br, s.Window())
	}
	return nil
}

// Admits reports whether the wall-clock range fits inside the working window
// without touching the break.
func (s WeeklySlot) Admits(r Span) bool {
	if !s.Window().Contains(r) {
		return false
	}
	if br, ok := s.Break(); ok && br.Overlaps(r) {
		return false
	}
	return true
}

// DedupeByDay keeps the last slot submitted for each weekday and returns the
// survivors ordered by day.
func DedupeByDay(slots []WeeklySlot) []WeeklySlot {
	seen := make(map[Weekday]bool, len(slots))
	out := make([]WeeklySlot, 0, len(slots))
	for i := len(slots) - 1; i >= 0; i-- {
		if seen[slots[i].Day] {
			continue
		}
		seen[slots[i].Day] = true
		out = append(out, slots[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// UnavailabilityPeriod blocks whole calendar dates, both ends inclusive.
type UnavailabilityPeriod struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (p UnavailabilityPeriod) Validate() error {
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidPeriod)
	}
	if DateOf(p.StartDate).After(DateOf(p.EndDate)) {
		return fmt.Errorf("%w: end date must not be before start date", ErrInvalidPeriod)
	}
	return nil
}

// Covers reports whether the calendar date falls inside the period.
func (p UnavailabilityPeriod) Covers(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(p.StartDate)) && !d.After(DateOf(p.EndDate))
}

// Blocked reports whether any period covers the date.
func Blocked(periods []UnavailabilityPeriod, date time.Time) bool {
	for _, p := range periods {
		if p.Covers(date) {
			return true
		}
	}
	return false
}

// Grid cuts the window into consecutive spans of step minutes starting at the
// window's opening time. A trailing remainder shorter than step is dropped.
func Grid(window Span, step int) []Span {
	if step <= 0 {
		return nil
	}
	var out []Span
	for start := window.Start; start.Add(step) <= window.End; start = start.Add(step) {
		out = append(out, Span{Start: start, End: start.Add(step)})
	}
	return out
}
