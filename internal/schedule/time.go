// Package schedule holds the pure value types used to describe when a doctor
// works: wall-clock times of day, weekdays, weekly slots and unavailability
// periods. Nothing in here performs I/O.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a local wall-clock time with minute precision, stored as
// minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidTimeOfDay, hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// MustTimeOfDay parses "HH:MM" and panics on malformed input. Meant for
// constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" with zero seconds.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	if t.Second() != 0 {
		return 0, fmt.Errorf("%w: %q has non-zero seconds", ErrInvalidTimeOfDay, s)
	}
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Add returns t shifted by the given minutes. The result is not wrapped at
// midnight, so callers can detect a range that spills into the next day.
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On places t on the given local date in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// Span is a half-open wall-clock interval [Start, End).
type Span struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

func (s Span) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// EndOf returns start plus the given number of minutes.
func EndOf(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// Weekday numbers days the way doctors' weekly schedules are stored:
// 0 is Monday and 6 is Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// WeekdayOf returns the schedule weekday of t in t's own location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// DateOf strips the clock from t, keeping its calendar date as midnight UTC.
// Dates produced this way compare correctly with Before/After/Equal.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "2006-01-02" calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// Local is a timestamp projected onto a doctor's wall clock.
type Local struct {
	Date    time.Time // calendar date, see DateOf
	Time    TimeOfDay
	Weekday Weekday
}

// ToLocal converts an absolute timestamp to the wall-clock date and time in
// loc. Only schedule-shape checks use the result; conflicts between
// appointments are always computed on absolute timestamps.
func ToLocal(ts time.Time, loc *time.Location) Local {
	lt := ts.In(loc)
	return Local{
		Date:    DateOf(lt),
		Time:    TimeOfDay(lt.Hour()*60 + lt.Minute()),
		Weekday: WeekdayOf(lt),
	}
}

// DayWindow returns the absolute [start, end) range covering the whole local
// calendar date in loc. The range is 23 or 25 hours long on DST transitions.
func DayWindow(date time.Time, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	end := time.Date(date.Year(), date.Month(), date.Day()+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

// wallMinutesOn returns the wall-clock minute of ts on the local date,
// clamped to [0, 24h] when ts falls on the previous or next day.
func wallMinutesOn(ts time.Time, date time.Time, loc *time.Location) TimeOfDay {
	l := ToLocal(ts, loc)
	switch {
	case l.Date.Before(date):
		return 0
	case l.Date.After(date):
		return minutesPerDay
	}
	return l.Time
}

// WallSpan projects the absolute interval [start, end) onto the wall clock of
// the given local date.
func WallSpan(start, end time.Time, date time.Time, loc *time.Location) Span {
	date = DateOf(date)
	return Span{Start: wallMinutesOn(start, date, loc), End: wallMinutesOn(end, date, loc)}
}
