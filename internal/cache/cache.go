package cache

import (
	"context"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eugenenazirov/fee-divider/internal/calculator"
	"github.com/eugenenazirov/fee-divider/internal/metrics"
)

const defaultShards = 16

// ComputeFunc produces the value for a missing key.
type ComputeFunc func() ([]calculator.FeeCombination, error)

// Option configures a Cache.
type Option func(*Cache)

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.shardCount = n
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Cache) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithLogger attaches a logger used for debug-level cache events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache memoizes calculation results by Key. It is split into shards, each
// guarded by an RWMutex, and computes each missing key at most once even
// when callers race for it. Failed computations are never stored.
type Cache struct {
	shardCount int
	shards     []*shard
	mask       uint64
	entries    atomic.Int64
	metrics    metrics.Recorder
	logger     *zap.Logger
}

type shard struct {
	mu     sync.RWMutex
	items  map[string][]calculator.FeeCombination
	flight singleflight.Group
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		shardCount: defaultShards,
		metrics:    metrics.NewNop(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	n := 1
	if c.shardCount > 1 {
		n = 1 << bits.Len(uint(c.shardCount-1))
	}
	c.shardCount = n
	c.mask = uint64(n - 1)
	c.shards = make([]*shard, n)
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string][]calculator.FeeCombination)}
	}
	return c
}

// Get returns the cached value for key without blocking on computations.
func (c *Cache) Get(key Key) ([]calculator.FeeCombination, bool) {
	value, ok := c.shardFor(key).load(key.String())
	if !ok {
		c.metrics.CacheMiss(string(key.Kind))
		return nil, false
	}
	c.metrics.CacheHit(string(key.Kind))
	return slices.Clone(value), true
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Concurrent callers for the same key share one computation. If ctx
// ends first the caller stops waiting; the computation still completes and
// is cached.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) ([]calculator.FeeCombination, error) {
	s := c.shardFor(key)
	id := key.String()
	kind := string(key.Kind)

	if value, ok := s.load(id); ok {
		c.metrics.CacheHit(kind)
		return slices.Clone(value), nil
	}
	c.metrics.CacheMiss(kind)

	ch := s.flight.DoChan(id, func() (any, error) {
		// An earlier flight may have stored the value after our first lookup.
		if value, ok := s.load(id); ok {
			return value, nil
		}
		value, err := compute()
		if err != nil {
			c.logger.Debug("calculation not cached", zap.String("key", id), zap.Error(err))
			return nil, err
		}
		if s.store(id, value) {
			c.metrics.CacheEntries(int(c.entries.Add(1)))
		}
		c.logger.Debug("calculation cached", zap.String("key", id), zap.Int("combinations", len(value)))
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		value, _ := res.Val.([]calculator.FeeCombination)
		return slices.Clone(value), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete removes key from the cache. Missing keys are ignored.
func (c *Cache) Delete(key Key) {
	id := key.String()
	if !c.shardFor(key).remove(id) {
		return
	}
	c.metrics.CacheEntries(int(c.entries.Add(-1)))
	c.metrics.CacheInvalidated(string(key.Kind))
	c.logger.Debug("calculation evicted", zap.String("key", id))
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return int(c.entries.Load())
}

func (c *Cache) shardFor(key Key) *shard {
	return c.shards[key.Hash()&c.mask]
}

func (s *shard) load(id string) ([]calculator.FeeCombination, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[id]
	return value, ok
}

// store reports whether id was newly added.
func (s *shard) store(id string, value []calculator.FeeCombination) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.items[id]
	s.items[id] = slices.Clone(value)
	return !existed
}

func (s *shard) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}
