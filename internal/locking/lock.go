// Package locking serializes mutations per appointment aggregate across
// horizontally scaled workers.
package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another worker holds the aggregate's lock.
var ErrNotAcquired = errors.New("locking: appointment lock not acquired")

// Locker guards a critical section per appointment.
type Locker interface {
	WithAppointmentLock(ctx context.Context, orgID string, appointmentID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker builds a locker using a per-appointment redis key.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &redisLocker{client: client, ttl: ttl}
}

func (l *redisLocker) WithAppointmentLock(ctx context.Context, orgID string, appointmentID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:appointment:%s:%s", orgID, appointmentID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("locking: acquire: %w", err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

// Only the holder of the token may delete the key; an expired lock taken
// over by another worker stays untouched.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("locking: release: %w", err)
	}
	return nil
}

// NopLocker runs the critical section without coordination; single-process
// deployments and tests use it.
type NopLocker struct{}

func (NopLocker) WithAppointmentLock(ctx context.Context, orgID string, appointmentID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
