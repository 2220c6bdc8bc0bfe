package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDoctorLockReleasedAfterRun(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisDoctorLocker(rdb, time.Second, zap.NewNop())
	doctorID := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		assert.True(t, mr.Exists(LockKey(doctorID)))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(LockKey(doctorID)))
}

func TestDoctorLockPropagatesError(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisDoctorLocker(rdb, time.Second, zap.NewNop())
	doctorID := uuid.New()
	boom := errors.New("boom")

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(LockKey(doctorID)))
}

func TestDoctorLockReleaseFailureIsLogged(t *testing.T) {
	mr, rdb := newTestClient(t)
	core, logs := observer.New(zapcore.WarnLevel)
	locker := NewRedisDoctorLocker(rdb, time.Second, zap.New(core))
	doctorID := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		mr.Close()
		return nil
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("doctor lock not released").All()
	require.Len(t, entries, 1)
	assert.Equal(t, LockKey(doctorID), entries[0].ContextMap()["key"])
}

func TestDoctorLockBusy(t *testing.T) {
	mr, rdb := newTestClient(t)
	doctorID := uuid.New()
	require.NoError(t, mr.Set(LockKey(doctorID), "someone-else"))

	locker := &redisDoctorLocker{client: rdb, ttl: time.Second, retries: 1, backoff: time.Millisecond, logger: zap.NewNop()}
	called := false
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	// a foreign token is never deleted by our release
	v, err := mr.Get(LockKey(doctorID))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestDoctorLockSerializes(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := &redisDoctorLocker{client: rdb, ttl: 2 * time.Second, retries: 200, backoff: time.Millisecond, logger: zap.NewNop()}
	doctorID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestNoopLocker(t *testing.T) {
	called := false
	err := NoopLocker{}.WithDoctorLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestQueueFIFO(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewQueue(rdb, "notifications:test")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("first")))
	require.NoError(t, q.Push(ctx, []byte("second")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := q.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	got, err = q.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestQueuePopEmpty(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewQueue(rdb, "notifications:empty")

	_, err := q.Pop(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("scheduler", "secret")
	ctx := context.Background()

	rdb, err := NewRedisClient(ctx, Options{Addr: mr.Addr(), Username: "scheduler", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, 10, rdb.Options().PoolSize)
	require.NoError(t, rdb.Close())

	_, err = NewRedisClient(ctx, Options{Addr: mr.Addr(), Username: "scheduler", Password: "wrong"})
	assert.Error(t, err)
}
