// Package lock provides the single-flight lock that keeps two runs of the
// same pipeline from writing the same tables at once.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Lock is held for the duration of one run.
type Lock interface {
	// Acquire tries to take the lock without blocking. It reports false if
	// another holder has it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this holder still owns it.
	Release(ctx context.Context) error
}

// Drivers.
const (
	DriverLocal = "local"
	DriverRedis = "redis"
)

// New returns a lock for key. A nil client selects a process-local lock.
func New(client redis.UniversalClient, key string, ttl time.Duration) Lock {
	if client != nil {
		return NewRedisLock(client, key, ttl)
	}
	return NewLocalLock(key)
}

var (
	localMu   sync.Mutex
	localHeld = map[string]bool{}
)

// LocalLock serializes runs within one process. Locks with the same key
// share state.
type LocalLock struct {
	key  string
	mu   sync.Mutex
	held bool
}

// NewLocalLock returns a process-local lock for key.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

// Acquire takes the lock if no other LocalLock for the key holds it.
func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, eris.Wrap(err, "lock: acquire")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}

	localMu.Lock()
	defer localMu.Unlock()
	if localHeld[l.key] {
		return false, nil
	}
	localHeld[l.key] = true
	l.held = true
	return true, nil
}

// Release frees the key if this instance holds it.
func (l *LocalLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	localMu.Lock()
	delete(localHeld, l.key)
	localMu.Unlock()
	l.held = false
	return nil
}
