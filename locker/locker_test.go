package locker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-billing/locker"
)

// =============================================================================
// MEMORY
// =============================================================================

func TestMemory_SerializesKey(t *testing.T) {
	m := locker.NewMemory()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "seq")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, m.Len())
}

func TestMemory_IndependentKeys(t *testing.T) {
	m := locker.NewMemory()
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestMemory_ContextCancelled(t *testing.T) {
	m := locker.NewMemory()
	unlock, err := m.Lock(context.Background(), "seq")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "seq")
	assert.ErrorIs(t, err, locker.ErrNotObtained)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Double unlock is harmless
	unlock()
	unlock()
	assert.Zero(t, m.Len())
}

// =============================================================================
// REDIS
// =============================================================================

func newRedisLocker(t *testing.T, cfg locker.RedisConfig) (*locker.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return locker.NewRedis(rdb, cfg, nil), mr
}

func TestRedis_LockAndRelease(t *testing.T) {
	l, mr := newRedisLocker(t, locker.RedisConfig{TTL: time.Minute})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "invoice-seq:acct-1:INV-202603-")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:invoice-seq:acct-1:INV-202603-"))

	unlock()
	assert.False(t, mr.Exists("lock:invoice-seq:acct-1:INV-202603-"))
}

func TestRedis_HeldLockNotObtained(t *testing.T) {
	l, _ := newRedisLocker(t, locker.RedisConfig{
		TTL:           time.Minute,
		RetryInterval: 5 * time.Millisecond,
		MaxRetries:    3,
	})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "seq")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(ctx, "seq")
	assert.ErrorIs(t, err, locker.ErrNotObtained)
}

func TestRedis_WaitsForRelease(t *testing.T) {
	l, _ := newRedisLocker(t, locker.RedisConfig{
		TTL:           time.Minute,
		RetryInterval: 5 * time.Millisecond,
		MaxRetries:    200,
	})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "seq")
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()

	unlock2, err := l.Lock(ctx, "seq")
	require.NoError(t, err)
	unlock2()
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := locker.DialRedis(context.Background(), locker.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	rdb.Close()

	mr.Close()
	_, err = locker.DialRedis(context.Background(), locker.RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
