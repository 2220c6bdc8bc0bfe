package notification

import (
	"context"
	"encoding/json"
	"fmt"
)

// Pusher is the write side of a queue.
type Pusher interface {
	Push(ctx context.Context, payload []byte) error
}

// QueuePublisher serializes events onto a queue for the worker.
type QueuePublisher struct {
	queue Pusher
}

func NewQueuePublisher(queue Pusher) *QueuePublisher {
	return &QueuePublisher{queue: queue}
}

func (p *QueuePublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.queue.Push(ctx, data); err != nil {
		return fmt.Errorf("publish notification %s: %w", ev.ID, err)
	}
	return nil
}
