package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etiba/appointment-scheduling/internal/config"
	"github.com/etiba/appointment-scheduling/internal/notification"
	redisclient "github.com/etiba/appointment-scheduling/internal/redis"
	"github.com/etiba/appointment-scheduling/internal/schedule"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Notifier receives events after the scheduling transaction has committed.
type Notifier interface {
	Publish(ctx context.Context, ev notification.Event) error
}

type Service struct {
	repo     Repository
	resolver *Resolver
	tracker  *Tracker
	policy   TransitionPolicy
	locker   redisclient.Locker
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPolicy(p TransitionPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:     repo,
		policy:   DefaultPolicy{},
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(repo, repo, loc)
	s.tracker = NewTracker(repo, s.now)
	return s
}

// ProposeRequest describes a new booking. PatientID is implied for patients
// and required for doctors and admins. Zero DurationMinutes and Kind take
// their defaults.
type ProposeRequest struct {
	PatientID       *uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int
	Kind            Kind
	Reason          string
	Notes           string
	Symptoms        string
	IsUrgent        bool
}

// ProposeAppointment validates the slot against the doctor's schedule and
// bookings and stores the appointment with its first history entry.
func (s *Service) ProposeAppointment(ctx context.Context, req ProposeRequest, actor Actor) (*Appointment, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if err := validateDuration(req.DurationMinutes); err != nil {
		return nil, err
	}
	if req.Kind == "" {
		req.Kind = KindConsultation
	}
	if !req.Kind.Valid() {
		return nil, invalidInput("unknown appointment type %q", req.Kind)
	}
	if req.Start.IsZero() {
		return nil, invalidInput("appointment_datetime is required")
	}
	start := req.Start.UTC()
	if !start.After(s.now()) {
		return nil, invalidInput("appointment time must be in the future")
	}

	patient, err := s.patientFor(ctx, req.PatientID, actor)
	if err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:       patient.ID,
		DoctorID:        doctor.ID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusScheduled,
		Kind:            req.Kind,
		Reason:          req.Reason,
		Notes:           req.Notes,
		Symptoms:        req.Symptoms,
		IsUrgent:        req.IsUrgent,
	}

	err = s.write(ctx, doctor.ID, func(ctx context.Context) error {
		if err := s.resolver.Check(ctx, doctor, start, appt.DurationMinutes, nil); err != nil {
			return err
		}
		if err := s.repo.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		_, err := s.tracker.Record(ctx, appt.ID, nil, appt.Status, &actor.ID, "Appointment created")
		return err
	})
	if err != nil {
		return nil, s.writeFailed("propose", doctor.ID, err)
	}

	s.logger.Info("appointment created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", doctor.ID.String()),
		zap.Time("start", appt.Start),
	)
	s.notify(ctx, appt, patient, doctor, actor, notification.VerbCreated,
		fmt.Sprintf("Appointment with %s on %s", doctor.FullName, s.localLabel(doctor, appt.Start)))

	return appt, nil
}

// UpdateRequest holds optional changes. Nil fields are left untouched.
type UpdateRequest struct {
	Start           *time.Time
	DurationMinutes *int
	Status          *Status
	StatusReason    string
	Kind            *Kind
	Reason          *string
	Notes           *string
	DoctorNotes     *string
	Symptoms        *string
	IsUrgent        *bool
}

// UpdateAppointment applies changes in one transaction. Timing changes are
// re-resolved against the schedule ignoring the appointment itself, as is a
// move from a terminal status back to an active one. A status change goes
// through the TransitionPolicy and is recorded in history; cancelling keeps
// CancelAppointment's preconditions.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, req UpdateRequest, actor Actor) (*Appointment, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if req.DurationMinutes != nil {
		if err := validateDuration(*req.DurationMinutes); err != nil {
			return nil, err
		}
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, invalidInput("unknown status %q", *req.Status)
	}
	if req.Kind != nil && !req.Kind.Valid() {
		return nil, invalidInput("unknown appointment type %q", *req.Kind)
	}
	if req.DoctorNotes != nil && actor.Role == RolePatient {
		return nil, fmt.Errorf("%w: patients cannot edit doctor notes", ErrForbidden)
	}

	current, err := s.visibleAppointment(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctor(ctx, current.DoctorID)
	if err != nil {
		return nil, err
	}

	var (
		updated    *Appointment
		prevStatus Status
	)
	err = s.write(ctx, doctor.ID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prevStatus = appt.Status

		statusChanged := req.Status != nil && *req.Status != appt.Status
		if statusChanged {
			if *req.Status == StatusCancelled && !appt.CanBeCancelled(s.now()) {
				return fmt.Errorf("%w: appointment in status %s at %s cannot be cancelled",
					ErrInvalidTransition, appt.Status, appt.Start.Format(time.RFC3339))
			}
			if !s.policy.Allow(actor.Role, appt.Status, *req.Status) {
				return fmt.Errorf("%w: %s may not set status %s", ErrForbidden, actor.Role, *req.Status)
			}
		}
		// a terminal appointment gave up its slot; taking it back needs a recheck
		reactivated := statusChanged && !prevStatus.Active() && req.Status.Active()

		timingChanged := false
		if req.Start != nil && !req.Start.UTC().Equal(appt.Start) {
			start := req.Start.UTC()
			if !start.After(s.now()) {
				return invalidInput("appointment time must be in the future")
			}
			appt.Start = start
			timingChanged = true
		}
		if req.DurationMinutes != nil && *req.DurationMinutes != appt.DurationMinutes {
			appt.DurationMinutes = *req.DurationMinutes
			timingChanged = true
		}
		if timingChanged || reactivated {
			if err := s.resolver.Check(ctx, doctor, appt.Start, appt.DurationMinutes, &appt.ID); err != nil {
				return err
			}
		}
		if statusChanged {
			appt.Status = *req.Status
		}

		applyDetails(appt, req)

		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if statusChanged {
			if _, err := s.tracker.Record(ctx, appt.ID, &prevStatus, appt.Status, &actor.ID, req.StatusReason); err != nil {
				return err
			}
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, s.writeFailed("update", doctor.ID, err)
	}

	verb, desc := notification.VerbUpdated, fmt.Sprintf("Appointment on %s was updated", s.localLabel(doctor, updated.Start))
	switch {
	case updated.Status == StatusCancelled && prevStatus != StatusCancelled:
		verb, desc = notification.VerbCancelled, fmt.Sprintf("Appointment on %s was cancelled", s.localLabel(doctor, updated.Start))
	case updated.Status != prevStatus:
		verb, desc = notification.VerbStatusUpdated, fmt.Sprintf("Appointment status changed from %s to %s", prevStatus, updated.Status)
	}
	s.notifyByIDs(ctx, updated, doctor, actor, verb, desc)

	return updated, nil
}

// ChangeStatus is UpdateAppointment restricted to a status change.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, status Status, reason string, actor Actor) (*Appointment, error) {
	return s.UpdateAppointment(ctx, id, UpdateRequest{Status: &status, StatusReason: reason}, actor)
}

// CancelAppointment moves the appointment to cancelled. It fails with
// ErrInvalidTransition, changing nothing, once the appointment has started or
// is already completed, cancelled or marked no-show.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	current, err := s.visibleAppointment(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctor(ctx, current.DoctorID)
	if err != nil {
		return nil, err
	}

	var cancelled *Appointment
	err = s.write(ctx, doctor.ID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !appt.CanBeCancelled(s.now()) {
			return fmt.Errorf("%w: appointment in status %s at %s cannot be cancelled",
				ErrInvalidTransition, appt.Status, appt.Start.Format(time.RFC3339))
		}
		if !s.policy.Allow(actor.Role, appt.Status, StatusCancelled) {
			return fmt.Errorf("%w: %s may not cancel", ErrForbidden, actor.Role)
		}

		prev := appt.Status
		appt.Status = StatusCancelled
		if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if reason == "" {
			reason = "Appointment cancelled"
		}
		if _, err := s.tracker.Record(ctx, appt.ID, &prev, StatusCancelled, &actor.ID, reason); err != nil {
			return err
		}
		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, s.writeFailed("cancel", doctor.ID, err)
	}

	s.notifyByIDs(ctx, cancelled, doctor, actor, notification.VerbCancelled,
		fmt.Sprintf("Appointment on %s was cancelled", s.localLabel(doctor, cancelled.Start)))
	return cancelled, nil
}

// CheckAvailability lists free grid starts for the doctor on a local date.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) ([]string, error) {
	if durationMinutes == 0 {
		durationMinutes = DefaultDurationMinutes
	}
	if err := validateDuration(durationMinutes); err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	today := schedule.ToLocal(s.now(), s.resolver.Location(doctor)).Date
	if schedule.DateOf(date).Before(today) {
		return nil, invalidInput("cannot check availability for past dates")
	}
	return s.resolver.AvailableSlots(ctx, doctor, date, durationMinutes)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	return s.visibleAppointment(ctx, id, actor)
}

// ListAppointments is scoped to the actor: patients see their own, doctors
// the ones assigned to them, admins everything.
func (s *Service) ListAppointments(ctx context.Context, f ListFilter, actor Actor) ([]Appointment, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, invalidInput("unknown status %q", *f.Status)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	switch actor.Role {
	case RolePatient:
		p, err := s.repo.GetPatientByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		f.PatientID = &p.ID
	case RoleDoctor:
		d, err := s.repo.GetDoctorByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		f.DoctorID = &d.ID
	}

	out, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

// StatusHistory returns the appointment's history, newest first.
func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID, actor Actor) ([]StatusHistoryEntry, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.visibleAppointment(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.tracker.History(ctx, id)
}

// write runs fn under the doctor's lock inside a single transaction.
func (s *Service) write(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	return s.locker.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
}

func (s *Service) writeFailed(op string, doctorID uuid.UUID, err error) error {
	log := s.logger.With(zap.String("op", op), zap.String("doctor_id", doctorID.String()))
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Warn("doctor calendar busy", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	case errors.Is(err, ErrConstraintViolation):
		log.Warn("lost booking race", zap.Error(err))
	case errors.Is(err, ErrDoctorNotAvailable):
		reason, _ := ReasonOf(err)
		log.Debug("doctor not available", zap.String("reason", string(reason)))
	}
	return err
}

func (s *Service) patientFor(ctx context.Context, requested *uuid.UUID, actor Actor) (*Patient, error) {
	if actor.Role == RolePatient {
		own, err := s.repo.GetPatientByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if requested != nil && *requested != own.ID {
			return nil, fmt.Errorf("%w: patients can only book for themselves", ErrForbidden)
		}
		return own, nil
	}
	if requested == nil {
		return nil, invalidInput("patient is required")
	}
	return s.repo.GetPatient(ctx, *requested)
}

// visibleAppointment loads an appointment the actor is allowed to see.
// Others' appointments look like they do not exist.
func (s *Service) visibleAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case RoleAdmin:
		return appt, nil
	case RolePatient:
		p, err := s.repo.GetPatientByUserID(ctx, actor.ID)
		if errors.Is(err, ErrNotFound) || (err == nil && p.ID != appt.PatientID) {
			return nil, ErrAppointmentNotFound
		}
		if err != nil {
			return nil, err
		}
	case RoleDoctor:
		d, err := s.repo.GetDoctorByUserID(ctx, actor.ID)
		if errors.Is(err, ErrNotFound) || (err == nil && d.ID != appt.DoctorID) {
			return nil, ErrAppointmentNotFound
		}
		if err != nil {
			return nil, err
		}
	}
	return appt, nil
}

func (s *Service) notifyByIDs(ctx context.Context, appt *Appointment, doctor *Doctor, actor Actor, verb, desc string) {
	patient, err := s.repo.GetPatient(ctx, appt.PatientID)
	if err != nil {
		s.logger.Warn("notification skipped, patient lookup failed",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		return
	}
	s.notify(ctx, appt, patient, doctor, actor, verb, desc)
}

// notify never fails the caller; the write it describes is already durable.
func (s *Service) notify(ctx context.Context, appt *Appointment, patient *Patient, doctor *Doctor, actor Actor, verb, desc string) {
	if s.notifier == nil {
		return
	}
	actorID := actor.ID
	for _, ev := range notification.ForAppointment(appt.ID, &actorID, verb, desc, patient.UserID, doctor.UserID) {
		if err := s.notifier.Publish(ctx, ev); err != nil {
			s.logger.Warn("notification dispatch failed",
				zap.String("appointment_id", appt.ID.String()),
				zap.String("verb", verb),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) localLabel(d *Doctor, t time.Time) string {
	return t.In(s.resolver.Location(d)).Format("2006-01-02 15:04 MST")
}

func applyDetails(a *Appointment, req UpdateRequest) {
	if req.Kind != nil {
		a.Kind = *req.Kind
	}
	if req.Reason != nil {
		a.Reason = *req.Reason
	}
	if req.Notes != nil {
		a.Notes = *req.Notes
	}
	if req.DoctorNotes != nil {
		a.DoctorNotes = *req.DoctorNotes
	}
	if req.Symptoms != nil {
		a.Symptoms = *req.Symptoms
	}
	if req.IsUrgent != nil {
		a.IsUrgent = *req.IsUrgent
	}
}

func validateActor(a Actor) error {
	if a.ID == uuid.Nil || !a.Role.Valid() {
		return invalidInput("actor id and role are required")
	}
	return nil
}

func validateDuration(minutes int) error {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return invalidInput("duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes)
	}
	return nil
}
