package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-taken by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker backed by SET NX with a per-holder token. It serializes
// callers across every API instance sharing the redis server. A held lock is
// renewed every third of its TTL until released, so the TTL only bounds how
// long a crashed holder blocks others.
type Redis struct {
	client       *redis.Client
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:       client,
		prefix:       "lock:",
		ttl:          time.Minute,
		pollInterval: 50 * time.Millisecond,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string, timeout time.Duration) (Unlock, error) {
	fullKey := r.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}

		wait := r.pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	done := make(chan struct{})
	go r.keepAlive(fullKey, token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			// The request context may already be cancelled; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token)
		})
	}, nil
}

func (r *Redis) keepAlive(fullKey, token string, done <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			renewed, err := renewScript.Run(ctx, r.client, []string{fullKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && renewed == 0 {
				// Expired and possibly re-taken; nothing left to renew.
				return
			}
		}
	}
}
