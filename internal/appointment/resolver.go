package appointment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/etiba/appointment-scheduling/internal/schedule"
)

// Resolver answers whether a doctor can take an appointment and which grid
// slots are still free on a date. Schedule shape is checked on the doctor's
// wall clock; clashes with other appointments on absolute instants.
type Resolver struct {
	schedules  ScheduleStore
	bookings   BookingReader
	defaultLoc *time.Location

	mu   sync.RWMutex
	locs map[string]*time.Location
}

func NewResolver(schedules ScheduleStore, bookings BookingReader, defaultLoc *time.Location) *Resolver {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Resolver{
		schedules:  schedules,
		bookings:   bookings,
		defaultLoc: defaultLoc,
		locs:       make(map[string]*time.Location),
	}
}

// Location returns the doctor's timezone, or the default one when the
// doctor has none or it cannot be loaded.
func (r *Resolver) Location(d *Doctor) *time.Location {
	if d == nil || d.Timezone == "" {
		return r.defaultLoc
	}

	r.mu.RLock()
	loc, ok := r.locs[d.Timezone]
	r.mu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		loc = r.defaultLoc
	}
	r.mu.Lock()
	r.locs[d.Timezone] = loc
	r.mu.Unlock()
	return loc
}

// Check returns nil when [start, start+duration) is free for the doctor, a
// *NotAvailableError naming the first failed rule, or a store error. exclude
// skips one appointment, normally the one being rescheduled.
func (r *Resolver) Check(ctx context.Context, d *Doctor, start time.Time, durationMinutes int, exclude *uuid.UUID) error {
	loc := r.Location(d)
	local := schedule.ToLocal(start, loc)
	wanted := schedule.Span{Start: local.Time, End: local.Time.Add(durationMinutes)}

	slot, err := r.schedules.ActiveWeeklySlot(ctx, d.ID, local.Weekday)
	if err != nil {
		return fmt.Errorf("load weekly slot: %w", err)
	}
	if slot == nil {
		return &NotAvailableError{Reason: ReasonNoSchedule}
	}
	if !slot.Window().Contains(wanted) {
		return &NotAvailableError{Reason: ReasonOutsideHours}
	}
	if br, ok := slot.Break(); ok && br.Overlaps(wanted) {
		return &NotAvailableError{Reason: ReasonBreakConflict}
	}

	periods, err := r.schedules.UnavailabilityCovering(ctx, d.ID, local.Date)
	if err != nil {
		return fmt.Errorf("load unavailability: %w", err)
	}
	if schedule.Blocked(periods, local.Date) {
		return &NotAvailableError{Reason: ReasonUnavailablePeriod}
	}

	end := schedule.EndOf(start, durationMinutes)
	// nothing longer than the max duration can reach back into our range
	from := start.Add(-MaxDurationMinutes * time.Minute)
	booked, err := r.bookings.ActiveAppointments(ctx, d.ID, from, end, exclude)
	if err != nil {
		return fmt.Errorf("load booked appointments: %w", err)
	}
	for _, b := range booked {
		if exclude != nil && b.ID == *exclude {
			continue
		}
		if schedule.Overlaps(start, end, b.Start, b.End()) {
			return &NotAvailableError{Reason: ReasonBookingConflict}
		}
	}

	return nil
}

// IsDoctorAvailable is Check reduced to a boolean. Only store failures are
// returned as errors.
func (r *Resolver) IsDoctorAvailable(ctx context.Context, d *Doctor, start time.Time, durationMinutes int, exclude *uuid.UUID) (bool, error) {
	err := r.Check(ctx, d, start, durationMinutes, exclude)
	if err == nil {
		return true, nil
	}
	if _, ok := ReasonOf(err); ok {
		return false, nil
	}
	return false, err
}

// AvailableSlots walks a fixed grid of durationMinutes steps from the opening
// time of the weekly slot for date and returns the free starts as "HH:MM".
// Off-grid gaps left by bookings of other lengths are not reported.
func (r *Resolver) AvailableSlots(ctx context.Context, d *Doctor, date time.Time, durationMinutes int) ([]string, error) {
	date = schedule.DateOf(date)
	out := []string{}

	slot, err := r.schedules.ActiveWeeklySlot(ctx, d.ID, schedule.WeekdayOf(date))
	if err != nil {
		return nil, fmt.Errorf("load weekly slot: %w", err)
	}
	if slot == nil {
		return out, nil
	}

	periods, err := r.schedules.UnavailabilityCovering(ctx, d.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load unavailability: %w", err)
	}
	if schedule.Blocked(periods, date) {
		return out, nil
	}

	loc := r.Location(d)
	dayStart, dayEnd := schedule.DayWindow(date, loc)
	booked, err := r.bookings.ActiveAppointments(ctx, d.ID, dayStart, dayEnd, nil)
	if err != nil {
		return nil, fmt.Errorf("load booked appointments: %w", err)
	}
	busy := make([]schedule.Span, 0, len(booked)+1)
	for _, b := range booked {
		busy = append(busy, schedule.WallSpan(b.Start, b.End(), date, loc))
	}
	if br, ok := slot.Break(); ok {
		busy = append(busy, br)
	}

	for _, candidate := range schedule.Grid(slot.Window(), durationMinutes) {
		if !clashes(candidate, busy) {
			out = append(out, candidate.Start.String())
		}
	}
	return out, nil
}

func clashes(s schedule.Span, busy []schedule.Span) bool {
	for _, b := range busy {
		if s.Overlaps(b) {
			return true
		}
	}
	return false
}
