package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"retro-api/domain"
)

type backend interface {
	SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error
	LoadSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error)
}

// Cache layers Redis over a snapshot backend. Reads are served from Redis
// when possible; writes go through to the backend and refresh the cache.
// With a nil backend, Redis itself is the snapshot store, which is enough
// for single-region deployments that can tolerate cache loss.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching snapshot store using the provided Redis client
// and TTL. A zero TTL keeps entries until they are overwritten.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func snapshotCacheKey(boardID string) string {
	return "snapshot:" + boardID
}

func (c *Cache) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if c.base != nil {
		if err := c.base.SaveSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	c.store(ctx, snap)
	return nil
}

func (c *Cache) LoadSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	if snap, ok := c.loadFromCache(ctx, boardID); ok {
		return snap, nil
	}
	if c.base == nil {
		return nil, NotFoundError{BoardID: boardID}
	}
	snap, err := c.base.LoadSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, snap)
	return snap, nil
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (*domain.Snapshot, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return nil, false
	}
	return &snap, true
}

func (c *Cache) store(ctx context.Context, snap *domain.Snapshot) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(snap.BoardID), data, c.ttl).Err()
}
