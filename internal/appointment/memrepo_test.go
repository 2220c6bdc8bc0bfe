package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/etiba/appointment-scheduling/internal/schedule"
)

type undoKey struct{}

type undoLog struct {
	mu  sync.Mutex
	fns []func()
}

// memRepo is an in-memory Repository. Like the Postgres store it rejects a
// second appointment for the same doctor and start instant regardless of
// status, and WithTx undoes every write made inside a failed transaction.
type memRepo struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
	slots    map[uuid.UUID][]schedule.WeeklySlot
	periods  []schedule.UnavailabilityPeriod
	appts    map[uuid.UUID]Appointment
	history  []StatusHistoryEntry
	nextHist int64

	// afterBookingRead runs once ActiveAppointments has read its result.
	afterBookingRead func()
	historyErr       error
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
		slots:    make(map[uuid.UUID][]schedule.WeeklySlot),
		appts:    make(map[uuid.UUID]Appointment),
	}
}

func (r *memRepo) addDoctor(tz string) Doctor {
	d := Doctor{ID: uuid.New(), UserID: uuid.New(), FullName: "Dr. Test", Timezone: tz}
	r.doctors[d.ID] = d
	return d
}

func (r *memRepo) addPatient() Patient {
	p := Patient{ID: uuid.New(), UserID: uuid.New(), FullName: "Pat Test"}
	r.patients[p.ID] = p
	return p
}

func (r *memRepo) addSlot(doctorID uuid.UUID, day schedule.Weekday, start, end string, brk ...string) {
	s := schedule.WeeklySlot{
		ID: uuid.New(), DoctorID: doctorID, Day: day,
		Start: schedule.MustTimeOfDay(start), End: schedule.MustTimeOfDay(end), Active: true,
	}
	if len(brk) == 2 {
		bs, be := schedule.MustTimeOfDay(brk[0]), schedule.MustTimeOfDay(brk[1])
		s.BreakStart, s.BreakEnd = &bs, &be
	}
	r.slots[doctorID] = append(r.slots[doctorID], s)
}

func (r *memRepo) addPeriod(doctorID uuid.UUID, from, to string) {
	start, _ := schedule.ParseDate(from)
	end, _ := schedule.ParseDate(to)
	r.periods = append(r.periods, schedule.UnavailabilityPeriod{ID: uuid.New(), DoctorID: doctorID, StartDate: start, EndDate: end})
}

func (r *memRepo) put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = a
}

func (r *memRepo) historyFor(id uuid.UUID) []StatusHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusHistoryEntry
	for _, e := range r.history {
		if e.AppointmentID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appts)
}

func (r *memRepo) onUndo(ctx context.Context, fn func()) {
	if u, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		u.mu.Lock()
		u.fns = append(u.fns, fn)
		u.mu.Unlock()
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	u := &undoLog{}
	if err := fn(context.WithValue(ctx, undoKey{}, u)); err != nil {
		r.mu.Lock()
		for i := len(u.fns) - 1; i >= 0; i-- {
			u.fns[i]()
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.doctors {
		if d.UserID == userID {
			return &d, nil
		}
	}
	return nil, ErrDoctorNotFound
}

func (r *memRepo) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.patients {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (r *memRepo) ActiveWeeklySlot(ctx context.Context, doctorID uuid.UUID, day schedule.Weekday) (*schedule.WeeklySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots[doctorID] {
		if s.Day == day && s.Active {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListWeeklySlots(ctx context.Context, doctorID uuid.UUID) ([]schedule.WeeklySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]schedule.WeeklySlot(nil), r.slots[doctorID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (r *memRepo) ReplaceWeeklySlots(ctx context.Context, doctorID uuid.UUID, slots []schedule.WeeklySlot) ([]schedule.WeeklySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[schedule.Weekday]bool{}
	out := make([]schedule.WeeklySlot, 0, len(slots))
	for _, s := range slots {
		if seen[s.Day] {
			return nil, errors.New("duplicate key value violates unique constraint doctor_weekly_slots_doctor_day_key")
		}
		seen[s.Day] = true
		s.ID, s.DoctorID, s.CreatedAt = uuid.New(), doctorID, time.Now()
		out = append(out, s)
	}
	prev := r.slots[doctorID]
	r.slots[doctorID] = out
	r.onUndo(ctx, func() { r.slots[doctorID] = prev })
	return append([]schedule.WeeklySlot(nil), out...), nil
}

func (r *memRepo) UnavailabilityCovering(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.UnavailabilityPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.UnavailabilityPeriod
	for _, p := range r.periods {
		if p.DoctorID == doctorID && p.Covers(date) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) ListUnavailability(ctx context.Context, doctorID uuid.UUID) ([]schedule.UnavailabilityPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.UnavailabilityPeriod
	for _, p := range r.periods {
		if p.DoctorID == doctorID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) CreateUnavailability(ctx context.Context, p *schedule.UnavailabilityPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	r.periods = append(r.periods, *p)
	return nil
}

func (r *memRepo) DeleteUnavailability(ctx context.Context, doctorID, periodID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.periods {
		if p.ID == periodID && p.DoctorID == doctorID {
			r.periods = append(r.periods[:i], r.periods[i+1:]...)
			return nil
		}
	}
	return ErrPeriodNotFound
}

func (r *memRepo) ActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]Appointment, error) {
	out := r.activeAppointments(doctorID, from, to, exclude)
	if r.afterBookingRead != nil {
		r.afterBookingRead()
	}
	return out, nil
}

func (r *memRepo) activeAppointments(doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID != doctorID || !a.Status.Active() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if !a.Start.Before(to) || (!from.IsZero() && !a.End().After(from)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (r *memRepo) uniqueTaken(a *Appointment) bool {
	for _, o := range r.appts {
		if o.ID != a.ID && o.DoctorID == a.DoctorID && o.Start.Equal(a.Start) {
			return true
		}
	}
	return false
}

func (r *memRepo) CreateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if r.uniqueTaken(a) {
		return ErrConstraintViolation
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	r.appts[a.ID] = *a
	id := a.ID
	r.onUndo(ctx, func() { delete(r.appts, id) })
	return nil
}

func (r *memRepo) UpdateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if r.uniqueTaken(a) {
		return ErrConstraintViolation
	}
	a.UpdatedAt = time.Now()
	r.appts[a.ID] = *a
	r.onUndo(ctx, func() { r.appts[prev.ID] = prev })
	return nil
}

func (r *memRepo) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointment(ctx, id)
}

func (r *memRepo) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		switch {
		case f.PatientID != nil && a.PatientID != *f.PatientID,
			f.DoctorID != nil && a.DoctorID != *f.DoctorID,
			f.Status != nil && a.Status != *f.Status,
			f.From != nil && a.Start.Before(*f.From),
			f.To != nil && !a.Start.Before(*f.To):
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) InsertStatusHistory(ctx context.Context, e *StatusHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return r.historyErr
	}
	r.nextHist++
	e.ID = r.nextHist
	r.history = append(r.history, *e)
	n := len(r.history)
	r.onUndo(ctx, func() { r.history = r.history[:n-1] })
	return nil
}

func (r *memRepo) ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusHistoryEntry
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].AppointmentID == appointmentID {
			out = append(out, r.history[i])
		}
	}
	return out, nil
}
