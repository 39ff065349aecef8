package lock

import (
	"context"
	"sync"
	"time"
)

// InProcessLock implements Locker with an in-memory per-key sync.Mutex map.
// It ignores ttl entirely — the Go mutex already provides exclusion for as
// long as the holder keeps it, which is what single-process deployments and
// tests want; there is no lease to expire.
type InProcessLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInProcessLock returns a ready-to-use InProcessLock.
func NewInProcessLock() *InProcessLock {
	return &InProcessLock{locks: make(map[string]*sync.Mutex)}
}

func (l *InProcessLock) mutexFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Acquire blocks until key's mutex is free or ctx is canceled. ttl is
// accepted to satisfy Locker but has no effect.
//
// The goroutine that waits on m.Lock() and the caller waiting on ctx.Done()
// both need to agree on exactly one outcome when they race: either the
// caller takes ownership of m, or the goroutine releases it unseen. That
// decision is made under handoffMu so only one side ever acts on it — a
// bare select on two channels (one closed by the caller, one by the
// goroutine) can't give that guarantee, since a select with both cases
// ready picks between them arbitrarily.
func (l *InProcessLock) Acquire(ctx context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	m := l.mutexFor(key)

	acquired := make(chan struct{})
	var handoffMu sync.Mutex
	giveUp := false

	go func() {
		m.Lock()
		handoffMu.Lock()
		defer handoffMu.Unlock()
		if giveUp {
			m.Unlock()
			return
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		release := func(context.Context) error {
			m.Unlock()
			return nil
		}
		return release, nil
	case <-ctx.Done():
		handoffMu.Lock()
		defer handoffMu.Unlock()
		select {
		case <-acquired:
			// The goroutine already committed to handing us the lock
			// before we recorded giveUp; no one else will call release,
			// so unlock it ourselves.
			m.Unlock()
		default:
			giveUp = true
		}
		return nil, ctx.Err()
	}
}
