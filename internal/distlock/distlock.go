// Package distlock implements an optional, Redis-backed advisory lock over
// a BuildKey, for CI fleets that share one CACHE_ROOT over a network
// filesystem where a plain flock(2) cannot be trusted to be exclusive
// across machines (spec.md §4.3, §5 "the cache directory is shared across
// concurrent host processes").
//
// This is consulted before internal/buildcache takes its local
// gofrs/flock lock, which is held in either case; it is adapted from the teacher's Redis cache client
// (api/internal/cache/cache.go), narrowed to the one operation that
// client actually needed for locking: SetNX with a TTL as a lease.
package distlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a leased, best-effort distributed mutual-exclusion lock keyed by
// BuildKey hex. It is optional: when no Redis address is configured,
// internal/buildcache skips it entirely and relies on gofrs/flock alone.
type Lock struct {
	client *redis.Client
}

// Dial connects to the distributed lock backend. addr is the value of the
// DISTRIBUTED_LOCK_REDIS_ADDR environment variable; callers should not call
// Dial at all when it is empty.
func Dial(addr string) (*Lock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("distlock: failed to reach %s: %w", addr, err)
	}
	return &Lock{client: client}, nil
}

// Close releases the underlying connection.
func (l *Lock) Close() error {
	return l.client.Close()
}

// TryAcquire attempts to acquire the lease for buildKeyHex, for at most
// ttl. It returns acquired=false (with a nil error) when another host
// already holds it — the caller is expected to poll or wait, then read the
// cache, exactly like losing a gofrs/flock contention race.
func (l *Lock) TryAcquire(ctx context.Context, buildKeyHex string, owner string, ttl time.Duration) (acquired bool, err error) {
	key := lockKey(buildKeyHex)
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("distlock: SetNX %s: %w", key, err)
	}
	return ok, nil
}

// Release clears the lease, only if owner still holds it — a stale lease
// past its TTL may already have been taken by another host, and releasing
// that host's lease out from under it would defeat the whole point.
func (l *Lock) Release(ctx context.Context, buildKeyHex string, owner string) error {
	key := lockKey(buildKeyHex)
	current, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("distlock: Get %s: %w", key, err)
	}
	if current != owner {
		return nil
	}
	return l.client.Del(ctx, key).Err()
}

func lockKey(buildKeyHex string) string {
	return "scarb-macro-host:buildlock:" + buildKeyHex
}
