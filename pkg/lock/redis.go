package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
)

// releaseScript deletes the key only if its value still matches the token
// this acquisition wrote — the safe-release half of the single-node lock
// pattern, preventing a slow holder from releasing a lock it no longer owns
// after the TTL expired and another process acquired it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RetryInterval and RetryBudget bound how long Acquire polls before giving up.
var (
	RetryInterval = 50 * time.Millisecond
	RetryBudget   = 2 * time.Second
)

// RedisLock implements Locker on top of a shared Redis client using
// SET key token NX PX ttl to acquire and the Lua release script above to
// release. It is a single-node lock, not the multi-node Redlock algorithm —
// sufficient when the control plane runs against one Redis primary (see
// DESIGN.md for the tradeoff).
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock builds a RedisLock whose keys are namespaced under prefix
// (e.g. "autoscale:lock:") to avoid colliding with unrelated keyspace users.
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix}
}

// Acquire polls SET NX at RetryInterval until it succeeds or RetryBudget is
// exhausted, at which point it returns autoscaleerrors.LockContention.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("lock: generating token: %w", err)
	}

	fullKey := l.prefix + key
	deadline := time.Now().Add(RetryBudget)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquiring %q: %w", key, err)
		}
		if ok {
			release := func(releaseCtx context.Context) error {
				return l.client.Eval(releaseCtx, releaseScript, []string{fullKey}, token).Err()
			}
			return release, nil
		}

		if time.Now().After(deadline) {
			return nil, autoscaleerrors.LockContention{Group: key}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RetryInterval):
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
