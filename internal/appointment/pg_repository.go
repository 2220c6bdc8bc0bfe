package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etiba/appointment-scheduling/internal/db"
	"github.com/etiba/appointment-scheduling/internal/schedule"
)

const appointmentUniqueConstraint = "appointments_doctor_datetime_key"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.FullName, &d.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

const appointmentColumns = `id, patient_id, doctor_id, appointment_datetime, duration_minutes, status,
	appointment_type, reason, notes, doctor_notes, symptoms, is_urgent, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Start,
		&a.DurationMinutes,
		&a.Status,
		&a.Kind,
		&a.Reason,
		&a.Notes,
		&a.DoctorNotes,
		&a.Symptoms,
		&a.IsUrgent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Start = a.Start.UTC()
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func toPgTime(t schedule.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func toPgTimePtr(t *schedule.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return toPgTime(*t)
}

func fromPgTime(v pgtype.Time) schedule.TimeOfDay {
	return schedule.TimeOfDay(v.Microseconds / int64(time.Minute/time.Microsecond))
}

func fromPgTimePtr(v pgtype.Time) *schedule.TimeOfDay {
	if !v.Valid {
		return nil
	}
	t := fromPgTime(v)
	return &t
}

func scanWeeklySlot(row pgx.Row) (*schedule.WeeklySlot, error) {
	var (
		s                          schedule.WeeklySlot
		day                        int16
		start, end, brStart, brEnd pgtype.Time
	)
	err := row.Scan(&s.ID, &s.DoctorID, &day, &start, &end, &brStart, &brEnd, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Day = schedule.Weekday(day)
	s.Start = fromPgTime(start)
	s.End = fromPgTime(end)
	s.BreakStart = fromPgTimePtr(brStart)
	s.BreakEnd = fromPgTimePtr(brEnd)
	return &s, nil
}

func scanPeriod(row pgx.Row) (*schedule.UnavailabilityPeriod, error) {
	var p schedule.UnavailabilityPeriod
	err := row.Scan(&p.ID, &p.DoctorID, &p.StartDate, &p.EndDate, &p.Reason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func translateWriteErr(err error) error {
	if db.IsUniqueViolation(err, appointmentUniqueConstraint) {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return err
}

// Directory

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, full_name, timezone
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, full_name, timezone
		FROM doctors
		WHERE user_id = $1
	`, userID)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, full_name, email
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, full_name, email
		FROM patients
		WHERE user_id = $1
	`, userID)
	return scanPatient(row)
}

// Weekly slots and unavailability

func (r *PgRepository) ActiveWeeklySlot(ctx context.Context, doctorID uuid.UUID, day schedule.Weekday) (*schedule.WeeklySlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, break_start, break_end, is_active, created_at
		FROM doctor_weekly_slots
		WHERE doctor_id = $1 AND day_of_week = $2 AND is_active
	`, doctorID, int16(day))
	s, err := scanWeeklySlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load weekly slot: %w", err)
	}
	return s, nil
}

func (r *PgRepository) ListWeeklySlots(ctx context.Context, doctorID uuid.UUID) ([]schedule.WeeklySlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, break_start, break_end, is_active, created_at
		FROM doctor_weekly_slots
		WHERE doctor_id = $1
		ORDER BY day_of_week
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list weekly slots: %w", err)
	}
	defer rows.Close()

	var out []schedule.WeeklySlot
	for rows.Next() {
		s, err := scanWeeklySlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan weekly slot: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgRepository) ReplaceWeeklySlots(ctx context.Context, doctorID uuid.UUID, slots []schedule.WeeklySlot) ([]schedule.WeeklySlot, error) {
	var out []schedule.WeeklySlot
	err := r.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_weekly_slots WHERE doctor_id = $1`, doctorID); err != nil {
			return fmt.Errorf("delete weekly slots: %w", err)
		}
		for _, s := range slots {
			row := r.conn(ctx).QueryRow(ctx, `
				INSERT INTO doctor_weekly_slots
					(id, doctor_id, day_of_week, start_time, end_time, break_start, break_end, is_active, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
				RETURNING id, doctor_id, day_of_week, start_time, end_time, break_start, break_end, is_active, created_at
			`, uuid.New(), doctorID, int16(s.Day), toPgTime(s.Start), toPgTime(s.End),
				toPgTimePtr(s.BreakStart), toPgTimePtr(s.BreakEnd), s.Active)
			saved, err := scanWeeklySlot(row)
			if err != nil {
				return fmt.Errorf("insert weekly slot %s: %w", s.Day, err)
			}
			out = append(out, *saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) UnavailabilityCovering(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.UnavailabilityPeriod, error) {
	return r.queryPeriods(ctx, `
		SELECT id, doctor_id, start_date, end_date, reason, created_at
		FROM doctor_unavailability
		WHERE doctor_id = $1 AND start_date <= $2 AND end_date >= $2
	`, doctorID, schedule.DateOf(date))
}

func (r *PgRepository) ListUnavailability(ctx context.Context, doctorID uuid.UUID) ([]schedule.UnavailabilityPeriod, error) {
	return r.queryPeriods(ctx, `
		SELECT id, doctor_id, start_date, end_date, reason, created_at
		FROM doctor_unavailability
		WHERE doctor_id = $1
		ORDER BY start_date
	`, doctorID)
}

func (r *PgRepository) queryPeriods(ctx context.Context, sql string, args ...any) ([]schedule.UnavailabilityPeriod, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query unavailability: %w", err)
	}
	defer rows.Close()

	var out []schedule.UnavailabilityPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unavailability: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateUnavailability(ctx context.Context, p *schedule.UnavailabilityPeriod) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_unavailability (id, doctor_id, start_date, end_date, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, doctor_id, start_date, end_date, reason, created_at
	`, p.ID, p.DoctorID, schedule.DateOf(p.StartDate), schedule.DateOf(p.EndDate), p.Reason)
	saved, err := scanPeriod(row)
	if err != nil {
		return fmt.Errorf("insert unavailability: %w", err)
	}
	*p = *saved
	return nil
}

func (r *PgRepository) DeleteUnavailability(ctx context.Context, doctorID, periodID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM doctor_unavailability WHERE id = $1 AND doctor_id = $2
	`, periodID, doctorID)
	if err != nil {
		return fmt.Errorf("delete unavailability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) ActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]Appointment, error) {
	var lower *time.Time
	if !from.IsZero() {
		lower = &from
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = ANY($2)
		  AND appointment_datetime < $3
		  AND ($4::timestamptz IS NULL OR appointment_datetime + make_interval(mins => duration_minutes) > $4)
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY appointment_datetime
	`, doctorID, statusStrings(ActiveStatuses), to, lower, exclude)
	if err != nil {
		return nil, fmt.Errorf("query active appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.Start.UTC(), a.DurationMinutes, a.Status,
		a.Kind, a.Reason, a.Notes, a.DoctorNotes, a.Symptoms, a.IsUrgent)
	saved, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", translateWriteErr(err))
	}
	*a = *saved
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET appointment_datetime = $2,
		    duration_minutes = $3,
		    status = $4,
		    appointment_type = $5,
		    reason = $6,
		    notes = $7,
		    doctor_notes = $8,
		    symptoms = $9,
		    is_urgent = $10,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.Start.UTC(), a.DurationMinutes, a.Status, a.Kind,
		a.Reason, a.Notes, a.DoctorNotes, a.Symptoms, a.IsUrgent)
	saved, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("update appointment: %w", translateWriteErr(err))
	}
	*a = *saved
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("appointment_datetime >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("appointment_datetime < $%d", f.To.UTC())
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(" ORDER BY appointment_datetime DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

// Status history

func (r *PgRepository) InsertStatusHistory(ctx context.Context, e *StatusHistoryEntry) error {
	var prev *string
	if e.PreviousStatus != nil {
		s := string(*e.PreviousStatus)
		prev = &s
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_status_history
			(appointment_id, previous_status, new_status, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, e.AppointmentID, prev, string(e.NewStatus), e.ChangedBy, e.Reason, e.ChangedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (r *PgRepository) ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, previous_status, new_status, changed_by, reason, changed_at
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY changed_at DESC, id DESC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var out []StatusHistoryEntry
	for rows.Next() {
		var (
			e    StatusHistoryEntry
			prev *string
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &prev, &e.NewStatus, &e.ChangedBy, &e.Reason, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		if prev != nil {
			s := Status(*prev)
			e.PreviousStatus = &s
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
