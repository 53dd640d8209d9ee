// Package cache holds the sharded mid-price cache the sizer's percentage
// sizing consults as its pricePerContract fallback, fed by the broker's
// quote stream.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// defaultMaxPriceAge bounds how long a cached quote is trusted before Get
// treats it as a miss. A stalled quote stream should fall through to the
// sizer's own default rather than silently hand back a minutes-old price.
const defaultMaxPriceAge = 5 * time.Minute

// ShardedPriceCache holds the last-seen mid price per symbol, FNV-sharded
// across numShards maps to cut lock contention between QuoteStream's
// writer goroutine and the sizer's read path.
type ShardedPriceCache struct {
	shards [numShards]*priceShard
	maxAge time.Duration
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// NewShardedPriceCache creates a cache whose Get treats entries older than
// defaultMaxPriceAge as a miss.
func NewShardedPriceCache() *ShardedPriceCache {
	return NewShardedPriceCacheWithMaxAge(defaultMaxPriceAge)
}

// NewShardedPriceCacheWithMaxAge creates a cache with a caller-chosen
// staleness bound. maxAge <= 0 disables the staleness check.
func NewShardedPriceCacheWithMaxAge(maxAge time.Duration) *ShardedPriceCache {
	c := &ShardedPriceCache{maxAge: maxAge}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *ShardedPriceCache) getShard(symbol string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set records symbol's latest mid price, called from the quote-stream role
// on every tick.
func (c *ShardedPriceCache) Set(symbol string, price float64) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = priceEntry{price: price, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get satisfies sizer.PriceCache: it returns symbol's cached mid price,
// or ok=false if absent or stale (older than maxAge).
func (c *ShardedPriceCache) Get(symbol string) (float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.maxAge > 0 && time.Since(entry.updatedAt) > c.maxAge {
		return 0, false
	}
	return entry.price, true
}

// Len returns the total number of cached symbols across all shards,
// staleness notwithstanding.
func (c *ShardedPriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// CacheStats is a point-in-time snapshot for the ops price-cache endpoint.
type CacheStats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats reports per-shard item counts and the age of the oldest entry.
func (c *ShardedPriceCache) Stats() CacheStats {
	stats := CacheStats{}
	var oldest time.Time

	for i, shard := range c.shards {
		shard.mu.RLock()
		stats.ShardCounts[i] = len(shard.items)
		stats.TotalItems += len(shard.items)
		for _, entry := range shard.items {
			if oldest.IsZero() || entry.updatedAt.Before(oldest) {
				oldest = entry.updatedAt
			}
		}
		shard.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
