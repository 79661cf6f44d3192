package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// ErrNotHeld is returned by Extend when the lock has expired or belongs to
// another holder.
var ErrNotHeld = eris.New("lock: not held")

// RedisLock is a cross-host lock built on SET NX with a TTL. A random
// token identifies the owner so that release never frees a lock taken by
// someone else after expiry.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock returns a lock stored at "lock:<key>".
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "lock:" + key,
		token:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Key returns the Redis key of the lock.
func (l *RedisLock) Key() string { return l.key }

// Acquire sets the key if it is absent.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "lock: acquire %s", l.key)
	}
	return ok, nil
}

// Release deletes the key if it still holds this lock's token.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return eris.Wrapf(err, "lock: release %s", l.key)
	}
	return nil
}

// Extend resets the TTL of a held lock.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return eris.Wrapf(err, "lock: extend %s", l.key)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
