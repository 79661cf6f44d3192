package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedisLock(client, "elt_pipeline", time.Minute)
	b := NewRedisLock(client, "elt_pipeline", time.Minute)
	assert.Equal(t, "lock:elt_pipeline", a.Key())

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:elt_pipeline"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the key, so its release is a no-op.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:elt_pipeline"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:elt_pipeline"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedisLock(client, "p", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewRedisLock(client, "p", time.Second)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, a.Extend(ctx, time.Minute), ErrNotHeld)
	require.NoError(t, b.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("lock:p"))
}

func TestRedisLock_ConnectionError(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisLock(client, "p", time.Second).Acquire(context.Background())
	assert.ErrorContains(t, err, "lock: acquire lock:p")
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	a := NewLocalLock("local-test")
	b := NewLocalLock("local-test")
	other := NewLocalLock("local-other")

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = a.Acquire(ctx)
	assert.False(t, ok, "not reentrant")

	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)

	ok, _ = other.Acquire(ctx)
	assert.True(t, ok)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok, "release by a non-holder is a no-op")

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}

func TestLocalLock_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalLock("cancelled").Acquire(ctx)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	_, client := newRedis(t)
	assert.IsType(t, &RedisLock{}, New(client, "k", time.Second))
	assert.IsType(t, &LocalLock{}, New(nil, "k", time.Second))
}
