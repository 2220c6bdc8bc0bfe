package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/etiba/appointment-scheduling/internal/redis"
)

// Source is the read side of a queue. Pop returns redisclient.ErrQueueEmpty
// when nothing arrived within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

type Sink interface {
	Save(ctx context.Context, ev Event) error
}

// Worker drains the queue into the sink. A failing save is retried with
// linear backoff and the event is dropped after maxRetries attempts.
type Worker struct {
	source     Source
	sink       Sink
	logger     *zap.Logger
	poll       time.Duration
	maxRetries int
	backoff    time.Duration
}

func NewWorker(source Source, sink Sink, logger *zap.Logger, poll time.Duration, maxRetries int) *Worker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{
		source:     source,
		sink:       sink,
		logger:     logger,
		poll:       poll,
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("notification queue read failed", zap.Error(err))
			if !sleep(ctx, w.poll) {
				return nil
			}
		}
	}
}

// ProcessOne handles at most one queued event. It reports whether an event
// was taken off the queue. Only queue failures are returned; undecodable or
// undeliverable events are logged and dropped.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	payload, err := w.source.Pop(ctx, w.poll)
	if errors.Is(err, redisclient.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.logger.Error("dropping malformed notification", zap.Error(err), zap.ByteString("payload", payload))
		return true, nil
	}

	log := w.logger.With(
		zap.String("event_id", ev.ID.String()),
		zap.String("recipient_id", ev.RecipientID.String()),
		zap.String("verb", ev.Verb),
	)

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err = w.sink.Save(ctx, ev)
		if err == nil {
			log.Debug("notification stored", zap.Int("attempt", attempt))
			return true, nil
		}
		log.Warn("notification store failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < w.maxRetries && !sleep(ctx, w.backoff*time.Duration(attempt)) {
			break
		}
	}

	log.Error("giving up on notification", zap.Int("attempts", w.maxRetries), zap.Error(err))
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
