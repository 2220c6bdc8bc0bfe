package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("doctor lock not acquired")
)

// Locker serializes booking writes for one doctor across API instances.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisDoctorLocker struct {
	client  *redis.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// NewRedisDoctorLocker creates a locker keyed per doctor. A busy lock is
// retried a few times before ErrLockNotAcquired is returned.
func NewRedisDoctorLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisDoctorLocker{
		client:  client,
		ttl:     ttl,
		retries: 5,
		backoff: 50 * time.Millisecond,
		logger:  logger,
	}
}

func LockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:doctor:%s", doctorID.String())
}

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := LockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// the caller's ctx may already be done; release on a fresh one
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.release(relCtx, key, token); err != nil {
			// fn's outcome stands; the key stays until its TTL runs out
			l.logger.Warn("doctor lock not released",
				zap.String("key", key),
				zap.Duration("ttl", l.ttl),
				zap.Error(err),
			)
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) error {
	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire doctor lock: %w", err)
		}
		if ok {
			return nil
		}
		if attempt >= l.retries {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff * time.Duration(attempt+1)):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when DOCTOR_LOCK_ENABLED is false, leaving
// the database uniqueness constraint as the only guard.
type NoopLocker struct{}

func (NoopLocker) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
