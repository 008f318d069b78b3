// Derived-data cache for summaries and analytics snapshots
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/models"
)

// SnapshotCache stores computed summaries and analytics snapshots keyed by
// conversation id. Entries are invalidated on every write to their
// conversation and recomputed lazily on the next read; a cancelled
// computation never writes a partial entry.
type SnapshotCache interface {
	GetSummary(ctx context.Context, conversationID string) (*models.Summary, bool)
	SetSummary(ctx context.Context, conversationID string, summary *models.Summary)
	GetAnalytics(ctx context.Context, conversationID string) (*models.AnalyticsSnapshot, bool)
	SetAnalytics(ctx context.Context, conversationID string, snapshot *models.AnalyticsSnapshot)
	Invalidate(ctx context.Context, conversationID string)
}

// NewSnapshotCache builds the cache backend selected by config.
func NewSnapshotCache(cfg *config.AppConfig) SnapshotCache {
	if cfg.CacheBackend() == config.CacheBackendRedis {
		return NewRedisSnapshotCache(cfg.RedisAddr())
	}
	return NewMemorySnapshotCache()
}

// ========== In-process backend ==========

type cacheEntry struct {
	summary   *models.Summary
	analytics *models.AnalyticsSnapshot
}

// MemorySnapshotCache is the default in-process cache.
type MemorySnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewMemorySnapshotCache creates an empty in-process cache.
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{entries: make(map[string]*cacheEntry)}
}

func (c *MemorySnapshotCache) GetSummary(_ context.Context, conversationID string) (*models.Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e := c.entries[conversationID]; e != nil && e.summary != nil {
		return e.summary, true
	}
	return nil, false
}

func (c *MemorySnapshotCache) SetSummary(_ context.Context, conversationID string, summary *models.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[conversationID]
	if e == nil {
		e = &cacheEntry{}
		c.entries[conversationID] = e
	}
	e.summary = summary
}

func (c *MemorySnapshotCache) GetAnalytics(_ context.Context, conversationID string) (*models.AnalyticsSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e := c.entries[conversationID]; e != nil && e.analytics != nil {
		return e.analytics, true
	}
	return nil, false
}

func (c *MemorySnapshotCache) SetAnalytics(_ context.Context, conversationID string, snapshot *models.AnalyticsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[conversationID]
	if e == nil {
		e = &cacheEntry{}
		c.entries[conversationID] = e
	}
	e.analytics = snapshot
}

func (c *MemorySnapshotCache) Invalidate(_ context.Context, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// ========== Redis backend ==========

// redisCacheTTL bounds entry lifetime as a safety net; invalidation on
// write remains the primary mechanism.
const redisCacheTTL = 24 * time.Hour

// RedisSnapshotCache shares derived data across engine replicas.
// Failures degrade to cache misses; the engine never depends on redis for
// correctness.
type RedisSnapshotCache struct {
	client *redis.Client
}

// NewRedisSnapshotCache creates a redis-backed cache.
func NewRedisSnapshotCache(addr string) *RedisSnapshotCache {
	return &RedisSnapshotCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func summaryKey(conversationID string) string   { return "engine:summary:" + conversationID }
func analyticsKey(conversationID string) string { return "engine:analytics:" + conversationID }

func (c *RedisSnapshotCache) GetSummary(ctx context.Context, conversationID string) (*models.Summary, bool) {
	raw, err := c.client.Get(ctx, summaryKey(conversationID)).Bytes()
	if err != nil {
		return nil, false
	}
	var summary models.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, false
	}
	return &summary, true
}

func (c *RedisSnapshotCache) SetSummary(ctx context.Context, conversationID string, summary *models.Summary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	c.client.Set(ctx, summaryKey(conversationID), raw, redisCacheTTL)
}

func (c *RedisSnapshotCache) GetAnalytics(ctx context.Context, conversationID string) (*models.AnalyticsSnapshot, bool) {
	raw, err := c.client.Get(ctx, analyticsKey(conversationID)).Bytes()
	if err != nil {
		return nil, false
	}
	var snapshot models.AnalyticsSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, false
	}
	return &snapshot, true
}

func (c *RedisSnapshotCache) SetAnalytics(ctx context.Context, conversationID string, snapshot *models.AnalyticsSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	c.client.Set(ctx, analyticsKey(conversationID), raw, redisCacheTTL)
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context, conversationID string) {
	c.client.Del(ctx, summaryKey(conversationID), analyticsKey(conversationID))
}
