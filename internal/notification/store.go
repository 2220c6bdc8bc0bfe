package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("notification not found")

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Save is idempotent on the event id, so a redelivered event is stored once.
func (s *PgStore) Save(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications
			(event_id, recipient_id, actor_id, verb, description, subject_kind, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.ID, ev.RecipientID, ev.ActorID, ev.Verb, ev.Description, ev.SubjectKind, ev.SubjectID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Unread lists a recipient's unread notifications, newest first.
func (s *PgStore) Unread(ctx context.Context, recipientID uuid.UUID, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, recipient_id, actor_id, verb, description, subject_kind, subject_id, created_at
		FROM notifications
		WHERE recipient_id = $1 AND NOT is_read
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.RecipientID, &ev.ActorID, &ev.Verb, &ev.Description,
			&ev.SubjectKind, &ev.SubjectID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkRead sets the read flag on one of the recipient's notifications.
// Another recipient's notification is reported as ErrNotFound.
func (s *PgStore) MarkRead(ctx context.Context, recipientID, eventID uuid.UUID, read bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = $3
		WHERE event_id = $1 AND recipient_id = $2
	`, eventID, recipientID, read)
	if err != nil {
		return fmt.Errorf("mark notification %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
