package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisclient "github.com/etiba/appointment-scheduling/internal/redis"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	saved    []Event
}

func (s *flakySink) Save(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	s.saved = append(s.saved, ev)
	return nil
}

func newQueue(t *testing.T) *redisclient.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisclient.NewQueue(rdb, "notifications:test")
}

func newTestWorker(q *redisclient.Queue, sink Sink, retries int) *Worker {
	w := NewWorker(q, sink, zap.NewNop(), time.Second, retries)
	w.backoff = time.Millisecond
	return w
}

func TestForAppointmentDedupesRecipients(t *testing.T) {
	apptID, patient, doctor := uuid.New(), uuid.New(), uuid.New()

	evs := ForAppointment(apptID, &patient, VerbCreated, "booked", patient, doctor, patient, uuid.Nil)
	require.Len(t, evs, 2)
	assert.Equal(t, patient, evs[0].RecipientID)
	assert.Equal(t, doctor, evs[1].RecipientID)
	for _, ev := range evs {
		assert.Equal(t, SubjectAppointment, ev.SubjectKind)
		assert.Equal(t, apptID, ev.SubjectID)
		assert.NotEqual(t, uuid.Nil, ev.ID)
	}
}

func TestPublishThenProcess(t *testing.T) {
	q := newQueue(t)
	sink := &flakySink{}
	ctx := context.Background()

	ev := ForAppointment(uuid.New(), nil, VerbCancelled, "cancelled by patient", uuid.New())[0]
	require.NoError(t, NewQueuePublisher(q).Publish(ctx, ev))

	took, err := newTestWorker(q, sink, 3).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	require.Len(t, sink.saved, 1)
	assert.Equal(t, ev.ID, sink.saved[0].ID)
	assert.Equal(t, VerbCancelled, sink.saved[0].Verb)
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	q := newQueue(t)
	sink := &flakySink{failures: 2}
	ctx := context.Background()

	ev := ForAppointment(uuid.New(), nil, VerbUpdated, "", uuid.New())[0]
	require.NoError(t, NewQueuePublisher(q).Publish(ctx, ev))

	_, err := newTestWorker(q, sink, 3).ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sink.calls)
	assert.Len(t, sink.saved, 1)
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	q := newQueue(t)
	sink := &flakySink{failures: 10}
	ctx := context.Background()

	ev := ForAppointment(uuid.New(), nil, VerbUpdated, "", uuid.New())[0]
	require.NoError(t, NewQueuePublisher(q).Publish(ctx, ev))

	took, err := newTestWorker(q, sink, 3).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, 3, sink.calls)
	assert.Empty(t, sink.saved)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	q := newQueue(t)
	sink := &flakySink{}
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, []byte("{not json")))

	took, err := newTestWorker(q, sink, 3).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Zero(t, sink.calls)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q := newQueue(t)
	w := newTestWorker(q, &flakySink{}, 1)
	w.poll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
