package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
)

func newTestRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLock(client, "autoscale:lock:"), mr
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	l, _ := newTestRedisLock(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "group-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	release2, err := l.Acquire(ctx, "group-1", time.Second)
	if err != nil {
		t.Fatalf("second Acquire() after release should succeed, error = %v", err)
	}
	_ = release2(ctx)
}

func TestRedisLock_ContentionReturnsLockContention(t *testing.T) {
	l, _ := newTestRedisLock(t)
	ctx := context.Background()

	origInterval, origBudget := RetryInterval, RetryBudget
	RetryInterval = 5 * time.Millisecond
	RetryBudget = 30 * time.Millisecond
	defer func() { RetryInterval, RetryBudget = origInterval, origBudget }()

	release, err := l.Acquire(ctx, "group-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release(ctx)

	_, err = l.Acquire(ctx, "group-1", time.Second)
	if err == nil {
		t.Fatal("Acquire() on a held lock should fail after the retry budget")
	}
	if _, ok := err.(autoscaleerrors.LockContention); !ok {
		t.Fatalf("error = %v (%T), want autoscaleerrors.LockContention", err, err)
	}
}

func TestRedisLock_SafeRelease_DoesNotReleaseAnotherHoldersLock(t *testing.T) {
	l, mr := newTestRedisLock(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "group-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	mr.FastForward(25 * time.Millisecond)

	release2, err := l.Acquire(ctx, "group-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() after expiry should succeed, error = %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("stale release() should not error, got %v", err)
	}

	if !mr.Exists("autoscale:lock:group-1") {
		t.Fatal("stale release should not have deleted the new holder's key")
	}

	_ = release2(ctx)
}
