package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etiba/appointment-scheduling/internal/schedule"
)

// ReplaceWeeklySlots swaps the doctor's whole weekly schedule. When a day is
// submitted more than once the last entry wins. Submitted slots are always
// stored active.
func (s *Service) ReplaceWeeklySlots(ctx context.Context, doctorID uuid.UUID, slots []schedule.WeeklySlot, actor Actor) ([]schedule.WeeklySlot, error) {
	if err := s.authorizeScheduleEdit(ctx, doctorID, actor); err != nil {
		return nil, err
	}
	for i := range slots {
		if err := slots[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		slots[i].Active = true
	}

	deduped := schedule.DedupeByDay(slots)
	var saved []schedule.WeeklySlot
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		saved, err = s.repo.ReplaceWeeklySlots(ctx, doctorID, deduped)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replace weekly slots: %w", err)
	}

	s.logger.Info("weekly schedule replaced",
		zap.String("doctor_id", doctorID.String()),
		zap.Int("submitted", len(slots)),
		zap.Int("stored", len(saved)),
	)
	return saved, nil
}

func (s *Service) WeeklySlots(ctx context.Context, doctorID uuid.UUID) ([]schedule.WeeklySlot, error) {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListWeeklySlots(ctx, doctorID)
}

func (s *Service) AddUnavailability(ctx context.Context, p schedule.UnavailabilityPeriod, actor Actor) (*schedule.UnavailabilityPeriod, error) {
	if err := s.authorizeScheduleEdit(ctx, p.DoctorID, actor); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p.StartDate = schedule.DateOf(p.StartDate)
	p.EndDate = schedule.DateOf(p.EndDate)

	if err := s.repo.CreateUnavailability(ctx, &p); err != nil {
		return nil, err
	}
	s.logger.Info("unavailability added",
		zap.String("doctor_id", p.DoctorID.String()),
		zap.Time("start_date", p.StartDate),
		zap.Time("end_date", p.EndDate),
	)
	return &p, nil
}

func (s *Service) ListUnavailability(ctx context.Context, doctorID uuid.UUID) ([]schedule.UnavailabilityPeriod, error) {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListUnavailability(ctx, doctorID)
}

func (s *Service) DeleteUnavailability(ctx context.Context, doctorID, periodID uuid.UUID, actor Actor) error {
	if err := s.authorizeScheduleEdit(ctx, doctorID, actor); err != nil {
		return err
	}
	return s.repo.DeleteUnavailability(ctx, doctorID, periodID)
}

// authorizeScheduleEdit allows admins and the doctor who owns the schedule.
func (s *Service) authorizeScheduleEdit(ctx context.Context, doctorID uuid.UUID, actor Actor) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleDoctor:
		if doctor.UserID == actor.ID {
			return nil
		}
	}
	return fmt.Errorf("%w: only the doctor or an admin can manage this schedule", ErrForbidden)
}
