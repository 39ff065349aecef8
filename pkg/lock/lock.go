// Package lock provides per-group mutual exclusion for the Mutation Engine.
// The group id is the lock key: every read-modify-write of a group's state
// happens inside an Acquire/release pair so concurrent policy executions,
// convergence passes, and admin operations serialize on one group at a time
// without contending across unrelated groups.
package lock

import (
	"context"
	"time"
)

// Locker acquires a named, TTL-bounded mutual exclusion lock and returns a
// release function. The release function is idempotent-safe to call once;
// calling it after the TTL has already expired is a no-op, not an error.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
