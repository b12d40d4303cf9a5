package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// manualClock is a clock tests move by hand
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheSetGetDelete(t *testing.T) {
	c := NewShardedCache(4, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v"))
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheAdd(t *testing.T) {
	clock := newManualClock()
	c := NewShardedCache(4, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	added, err := c.Add(ctx, "k", "first")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.Add(ctx, "k", "second")
	require.NoError(t, err)
	assert.False(t, added)
	v, _ := c.Get(ctx, "k")
	assert.Equal(t, "first", v)

	// an expired entry can be taken over
	clock.Advance(time.Minute)
	added, err = c.Add(ctx, "k", "third")
	require.NoError(t, err)
	assert.True(t, added)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Add(cancelled, "other", "v")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCacheAddConcurrent(t *testing.T) {
	c := NewShardedCache(4, time.Minute)
	ctx := context.Background()

	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if added, err := c.Add(ctx, "key", i); err == nil && added {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCacheExpiry(t *testing.T) {
	clock := newManualClock()
	c := NewShardedCache(4, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1))
	clock.Advance(59 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entries expire at exactly ttl")
	assert.Equal(t, 1, c.Len(), "expired entries stay until cleanup")
	assert.Equal(t, Stats{Shards: 4, Items: 1, Expired: 1}, c.Stats())

	require.NoError(t, c.CleanExpired(ctx))
	assert.Zero(t, c.Len())
}

func TestCacheCanceledContext(t *testing.T) {
	c := NewShardedCache(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Set(ctx, "k", 1))
	cancel()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.ErrorIs(t, c.Set(ctx, "k", 2), context.Canceled)
	assert.ErrorIs(t, c.Delete(ctx, "k"), context.Canceled)
	assert.ErrorIs(t, c.CleanExpired(ctx), context.Canceled)
}

func TestCacheDefaults(t *testing.T) {
	c := NewShardedCache(0, 0)
	assert.Len(t, c.shards, defaultShardCount)
	assert.Equal(t, defaultTTL, c.ttl)
}

// TestCacheConcurrentAccess tests concurrent access to cache with race detection
func TestCacheConcurrentAccess(t *testing.T) {
	c := NewShardedCache(16, time.Hour)
	ctx := context.Background()

	numGoroutines := 50
	numOperations := 100
	var wg sync.WaitGroup

	wg.Add(numGoroutines * 3)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				assert.NoError(t, c.Set(ctx, fmt.Sprintf("key-%d-%d", id, j), j))
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_, _ = c.Get(ctx, fmt.Sprintf("key-%d-%d", id, j))
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_ = c.Delete(ctx, fmt.Sprintf("key-%d-%d", id, j))
			}
		}(i)
	}
	wg.Wait()
}

// TestCacheCleanupWorker tests cleanup worker with concurrent access
func TestCacheCleanupWorker(t *testing.T) {
	clock := newManualClock()
	c := NewShardedCache(16, time.Second,
		WithClock(clock.Now),
		WithCleanupInterval(10*time.Millisecond),
		WithLogger(zaptest.NewLogger(t)),
	)
	ctx := context.Background()

	c.StartCleanupWorker()
	c.StartCleanupWorker()
	defer c.StopCleanupWorker()

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("expire-key-%d", i), i))
	}
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCacheStopWithoutStart(t *testing.T) {
	c := NewShardedCache(1, time.Minute)
	c.StopCleanupWorker()

	c.StartCleanupWorker()
	c.StopCleanupWorker()
	c.StopCleanupWorker()
}

// TestCacheSharding tests that sharding distributes keys evenly
func TestCacheSharding(t *testing.T) {
	c := NewShardedCache(16, time.Hour)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("shard-key-%d", i), i))
	}

	stats := c.Stats()
	assert.Equal(t, 16, stats.Shards)
	assert.Equal(t, 1000, stats.Items)

	nonEmpty := 0
	for _, s := range c.shards {
		if len(s.items) > 0 {
			nonEmpty++
		}
	}
	assert.Greater(t, nonEmpty, 10, "Items should be distributed across multiple shards")
}
