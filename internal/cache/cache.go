// Package cache holds ShardedCache, the TTL store the HTTP layer replays
// idempotent responses from.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
)

const (
	// Настройки по умолчанию
	defaultShardCount      = 16
	defaultTTL             = 15 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

type item struct {
	value     any
	expiresAt time.Time
}

// shard: одна часть кэша со своим мьютексом
type shard struct {
	mu    sync.RWMutex
	items map[string]item
}

// ShardedCache is a thread-safe TTL cache split into independently locked
// shards.
type ShardedCache struct {
	shards          []*shard
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *zap.Logger

	// фоновая очистка
	workerMu sync.Mutex
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a ShardedCache.
type Option func(*ShardedCache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *ShardedCache) {
		c.now = now
	}
}

// WithCleanupInterval sets how often the cleanup worker runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *ShardedCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithLogger sets the logger of the cleanup worker.
func WithLogger(logger *zap.Logger) Option {
	return func(c *ShardedCache) {
		c.logger = logger
	}
}

// NewShardedCache creates a cache. Non-positive arguments fall back to
// 16 shards and a 15 minute TTL.
func NewShardedCache(shardCount int, ttl time.Duration, opts ...Option) *ShardedCache {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	c := &ShardedCache{
		shards:          make([]*shard, shardCount),
		ttl:             ttl,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
		logger:          zap.NewNop(),
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]item)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// shardFor выбирает шард по FNV-хешу ключа
func (c *ShardedCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements domain.Cache. Expired entries are reported as missing and
// left for the cleanup worker.
func (c *ShardedCache) Get(ctx context.Context, key string) (any, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || !c.now().Before(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set implements domain.Cache
func (c *ShardedCache) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = item{value: value, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Add implements domain.Cache. It stores value only when key is missing or
// expired; the check and the write happen under one shard lock.
func (c *ShardedCache) Add(ctx context.Context, key string, value any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if it, ok := s.items[key]; ok && now.Before(it.expiresAt) {
		return false, nil
	}
	s.items[key] = item{value: value, expiresAt: now.Add(c.ttl)}
	return true, nil
}

// Delete implements domain.Cache
func (c *ShardedCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// CleanExpired implements domain.Cache
func (c *ShardedCache) CleanExpired(ctx context.Context) error {
	for _, s := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := c.now()
		s.mu.Lock()
		for key, it := range s.items {
			if !now.Before(it.expiresAt) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *ShardedCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// StartCleanupWorker starts periodic removal of expired entries. Calling it
// twice is a no-op.
func (c *ShardedCache) StartCleanupWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.cleanupWorker(c.stop, c.done)
}

// StopCleanupWorker stops the worker after a final cleanup pass.
func (c *ShardedCache) StopCleanupWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

func (c *ShardedCache) cleanupWorker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			c.clean(5 * time.Second)
			return
		case <-ticker.C:
			c.clean(30 * time.Second)
		}
	}
}

func (c *ShardedCache) clean(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	before := c.Len()
	if err := c.CleanExpired(ctx); err != nil {
		c.logger.Warn("cache cleanup interrupted", zap.Error(err))
		return
	}
	if removed := before - c.Len(); removed > 0 {
		c.logger.Debug("expired cache entries removed", zap.Int("count", removed))
	}
}

// Stats describes cache occupancy.
type Stats struct {
	Shards  int `json:"shards"`
	Items   int `json:"items"`
	Expired int `json:"expired"`
}

// Stats counts entries across all shards.
func (c *ShardedCache) Stats() Stats {
	st := Stats{Shards: len(c.shards)}
	now := c.now()
	for _, s := range c.shards {
		s.mu.RLock()
		st.Items += len(s.items)
		for _, it := range s.items {
			if !now.Before(it.expiresAt) {
				st.Expired++
			}
		}
		s.mu.RUnlock()
	}
	return st
}

var _ domain.Cache = (*ShardedCache)(nil)
