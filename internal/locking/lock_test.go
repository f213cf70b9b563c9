package locking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, 5*time.Second), mr
}

func TestLockRunsAndReleases(t *testing.T) {
	locker, _ := newLocker(t)
	apptID := uuid.New()
	ran := false

	err := locker.WithAppointmentLock(context.Background(), "org_1", apptID, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithAppointmentLock: %v", err)
	}
	if !ran {
		t.Fatal("critical section never ran")
	}

	// Released: a second acquisition must succeed immediately.
	err = locker.WithAppointmentLock(context.Background(), "org_1", apptID, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestLockContention(t *testing.T) {
	locker, _ := newLocker(t)
	apptID := uuid.New()

	errInner := locker.WithAppointmentLock(context.Background(), "org_1", apptID, func(ctx context.Context) error {
		return locker.WithAppointmentLock(ctx, "org_1", apptID, func(ctx context.Context) error {
			t.Fatal("nested acquisition of a held lock succeeded")
			return nil
		})
	})
	if !errors.Is(errInner, ErrNotAcquired) {
		t.Fatalf("got %v, want ErrNotAcquired", errInner)
	}
}

func TestLockScopedPerAppointment(t *testing.T) {
	locker, _ := newLocker(t)

	err := locker.WithAppointmentLock(context.Background(), "org_1", uuid.New(), func(ctx context.Context) error {
		return locker.WithAppointmentLock(ctx, "org_1", uuid.New(), func(ctx context.Context) error {
			return nil
		})
	})
	if err != nil {
		t.Fatalf("independent aggregates blocked each other: %v", err)
	}
}

func TestLockErrorPropagates(t *testing.T) {
	locker, _ := newLocker(t)
	boom := errors.New("boom")

	err := locker.WithAppointmentLock(context.Background(), "org_1", uuid.New(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want inner error", err)
	}
}
