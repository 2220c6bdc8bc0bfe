package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tracker appends status history. It records any transition it is given;
// deciding whether a transition is allowed is TransitionPolicy's job.
type Tracker struct {
	store HistoryStore
	now   func() time.Time
}

func NewTracker(store HistoryStore, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Record writes one entry. prev is nil for the entry created with the
// appointment; actor is nil for system changes.
func (t *Tracker) Record(ctx context.Context, appointmentID uuid.UUID, prev *Status, next Status, actor *uuid.UUID, reason string) (*StatusHistoryEntry, error) {
	e := &StatusHistoryEntry{
		AppointmentID:  appointmentID,
		PreviousStatus: prev,
		NewStatus:      next,
		ChangedBy:      actor,
		Reason:         reason,
		ChangedAt:      t.now().UTC(),
	}
	if err := t.store.InsertStatusHistory(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *Tracker) History(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	return t.store.ListStatusHistory(ctx, appointmentID)
}
