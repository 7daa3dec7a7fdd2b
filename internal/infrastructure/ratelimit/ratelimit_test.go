package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		StoreMemory: func(t *testing.T, clock *fakeClock) Store {
			s, err := NewMemoryStore(1000, WithClock(clock.Now))
			require.NoError(t, err)
			return s
		},
		StoreBadger: func(t *testing.T, clock *fakeClock) Store {
			s, err := OpenBadgerStore("")
			require.NoError(t, err)
			s.now = clock.Now
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestLimiterFixedWindow(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			limiter, err := New(Config{Name: "general", Limit: 100, Window: 15 * time.Minute}, factory(t, clock))
			require.NoError(t, err)
			ctx := context.Background()

			for i := 1; i <= 100; i++ {
				res, err := limiter.Take(ctx, "10.0.0.1")
				require.NoError(t, err)
				require.True(t, res.Allowed, "request %d", i)
				assert.Equal(t, 100-i, res.Remaining)
			}

			res, err := limiter.Take(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.False(t, res.Allowed, "101st request is rejected")
			assert.Equal(t, 0, res.Remaining)
			assert.Equal(t, int64(101), res.Count)
			assert.WithinDuration(t, clock.Now().Add(15*time.Minute), res.ResetAt, 0)

			// Other identities have their own counters.
			res, err = limiter.Take(ctx, "10.0.0.2")
			require.NoError(t, err)
			assert.True(t, res.Allowed)

			// The window elapses and the counter restarts.
			clock.Advance(15 * time.Minute)
			res, err = limiter.Take(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, int64(1), res.Count)
		})
	}
}

func TestLimiterRelease(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			limiter, err := New(Config{Name: "auth", Limit: 5, Window: 15 * time.Minute, SkipSuccessful: true}, factory(t, clock))
			require.NoError(t, err)
			ctx := context.Background()

			// Successful logins are refunded and never exhaust the budget.
			for i := 0; i < 20; i++ {
				res, err := limiter.Take(ctx, "10.0.0.1")
				require.NoError(t, err)
				require.True(t, res.Allowed)
				require.NoError(t, limiter.Release(ctx, "10.0.0.1"))
			}

			for i := 0; i < 5; i++ {
				res, err := limiter.Take(ctx, "10.0.0.1")
				require.NoError(t, err)
				require.True(t, res.Allowed)
			}
			res, err := limiter.Take(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.False(t, res.Allowed)

			require.NoError(t, limiter.Reset(ctx, "10.0.0.1"))
			res, err = limiter.Take(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.True(t, res.Allowed)

			// Releasing an unknown identity is a no-op.
			assert.NoError(t, limiter.Release(ctx, "never-seen"))
		})
	}
}

func TestLimitersDoNotShareCounters(t *testing.T) {
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	general, err := New(Config{Name: "general", Limit: 1, Window: time.Minute}, store)
	require.NoError(t, err)
	auth, err := New(Config{Name: "auth", Limit: 1, Window: time.Minute}, store)
	require.NoError(t, err)

	ctx := context.Background()
	res, _ := general.Take(ctx, "ip")
	assert.True(t, res.Allowed)
	res, _ = auth.Take(ctx, "ip")
	assert.True(t, res.Allowed)
	res, _ = general.Take(ctx, "ip")
	assert.False(t, res.Allowed)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	store, err := NewMemoryStore(10)
	require.NoError(t, err)
	limiter, err := New(Config{Name: "general", Limit: 100, Window: time.Hour}, store)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Take(context.Background(), "ip")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, allowed)
}

func TestMemoryStoreEvictsLeastRecent(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Increment(ctx, key, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.Len())

	w, err := store.Increment(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Count, "evicted identity starts over")
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (Window, error) {
	return Window{}, errors.New("connection refused")
}
func (failingStore) Decrement(context.Context, string) error { return errors.New("connection refused") }
func (failingStore) Reset(context.Context, string) error     { return errors.New("connection refused") }

func TestLimiterFailsOpen(t *testing.T) {
	limiter, err := New(Config{Name: "general", Limit: 1, Window: time.Minute}, failingStore{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := limiter.Take(context.Background(), "ip")
		assert.Error(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Limit)
	}
	assert.Error(t, limiter.Release(context.Background(), "ip"))
}

func TestNewValidatesConfig(t *testing.T) {
	store, err := NewMemoryStore(1)
	require.NoError(t, err)

	_, err = New(Config{Limit: 0, Window: time.Minute}, store)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Limit: 1}, store)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Limit: 1, Window: time.Minute}, nil)
	assert.Error(t, err)

	l, err := New(Config{Limit: 1, Window: time.Minute}, store)
	require.NoError(t, err)
	assert.Equal(t, "default", l.Name())
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Second, Result{ResetAt: now}.RetryAfter(now))
	assert.Equal(t, 2*time.Second, Result{ResetAt: now.Add(1500 * time.Millisecond)}.RetryAfter(now))
	assert.Equal(t, 15*time.Minute, Result{ResetAt: now.Add(15 * time.Minute)}.RetryAfter(now))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(NewRedisClient(RedisConfig{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.HealthCheck(ctx))

	limiter, err := New(Config{Name: "general", Limit: 3, Window: time.Minute}, store)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		res, err := limiter.Take(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(i), res.Count)
		assert.WithinDuration(t, time.Now().Add(time.Minute), res.ResetAt, 2*time.Second)
	}
	res, err := limiter.Take(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, limiter.Release(ctx, "ip"))
	val, err := mr.Get("ratelimit:general:ip")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	mr.FastForward(time.Minute)
	res, err = limiter.Take(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Count)

	require.NoError(t, limiter.Reset(ctx, "ip"))
	assert.False(t, mr.Exists("ratelimit:general:ip"))

	// Releasing a missing key leaves nothing behind.
	require.NoError(t, limiter.Release(ctx, "ip"))
	assert.False(t, mr.Exists("ratelimit:general:ip"))
}

func TestRedisStoreFailsOpenWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store := NewRedisStore(NewRedisClient(RedisConfig{Addr: mr.Addr()}))
	mr.Close()

	limiter, err := New(Config{Name: "general", Limit: 1, Window: time.Minute}, store)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := limiter.Take(ctx, "ip")
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}
