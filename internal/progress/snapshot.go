package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache is the local fallback tier: every mutation writes the full
// per-user record map here first, so the session keeps working when the
// remote store is unavailable.
type SnapshotCache interface {
	// LoadSnapshot returns the cached record map for a user, or (nil, nil)
	// when no snapshot exists.
	LoadSnapshot(ctx context.Context, userID string) (map[string]Record, error)
	SaveSnapshot(ctx context.Context, userID string, records map[string]Record) error
}

// MemorySnapshotCache is an in-process SnapshotCache.
type MemorySnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]Record
}

// NewMemorySnapshotCache creates an empty in-process snapshot cache.
func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{
		snapshots: make(map[string]map[string]Record),
	}
}

func (c *MemorySnapshotCache) LoadSnapshot(_ context.Context, userID string) (map[string]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snapshots[userID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]Record, len(snap))
	for id, rec := range snap {
		out[id] = rec
	}
	return out, nil
}

func (c *MemorySnapshotCache) SaveSnapshot(_ context.Context, userID string, records map[string]Record) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	snap := make(map[string]Record, len(records))
	for id, rec := range records {
		snap[id] = rec
	}

	c.mu.Lock()
	c.snapshots[userID] = snap
	c.mu.Unlock()
	return nil
}

const snapshotTTL = 30 * 24 * time.Hour

// RedisSnapshotCache stores JSON snapshots in Redis/Dragonfly, keyed per user,
// so the fallback tier survives server restarts.
type RedisSnapshotCache struct {
	client *redis.Client
}

// NewRedisSnapshotCache creates a Redis-backed snapshot cache.
func NewRedisSnapshotCache(client *redis.Client) (*RedisSnapshotCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisSnapshotCache{client: client}, nil
}

func snapshotKey(userID string) string {
	return "progress:snapshot:" + userID
}

func (c *RedisSnapshotCache) LoadSnapshot(ctx context.Context, userID string) (map[string]Record, error) {
	data, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap map[string]Record
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (c *RedisSnapshotCache) SaveSnapshot(ctx context.Context, userID string, records map[string]Record) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(userID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
