// Package notification carries appointment events from the scheduling
// service to their recipients. Events are queued in redis after the
// scheduling transaction commits and persisted by a separate worker.
package notification

import (
	"time"

	"github.com/google/uuid"
)

const (
	VerbCreated       = "Appointment Created"
	VerbCancelled     = "Appointment Cancelled"
	VerbStatusUpdated = "Appointment Status Updated"
	VerbUpdated       = "Appointment Updated"
)

// SubjectAppointment tags events whose subject is an appointment.
const SubjectAppointment = "appointment"

// Event references its subject by kind and id only.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	ActorID     *uuid.UUID `json:"actor_id,omitempty"`
	Verb        string     `json:"verb"`
	Description string     `json:"description"`
	SubjectKind string     `json:"subject_kind"`
	SubjectID   uuid.UUID  `json:"subject_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ForAppointment builds one event per recipient, skipping nil ids and
// duplicates.
func ForAppointment(appointmentID uuid.UUID, actor *uuid.UUID, verb, description string, recipients ...uuid.UUID) []Event {
	now := time.Now().UTC()
	seen := make(map[uuid.UUID]bool, len(recipients))
	out := make([]Event, 0, len(recipients))
	for _, r := range recipients {
		if r == uuid.Nil || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, Event{
			ID:          uuid.New(),
			RecipientID: r,
			ActorID:     actor,
			Verb:        verb,
			Description: description,
			SubjectKind: SubjectAppointment,
			SubjectID:   appointmentID,
			CreatedAt:   now,
		})
	}
	return out
}
