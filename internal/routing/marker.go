package routing

import (
	"context"
	"time"

	"omnichat-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Marker is a short-lived per-key claim shared by every sweeper instance.
// Acquire returns false when the key is already held.
type Marker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisMarker claims keys with SET NX PX so overlapping sweeps on different
// processes skip the same ticket.
type RedisMarker struct {
	rdb   *redis.Client
	owner string
}

func NewRedisMarker(rdb *redis.Client) *RedisMarker {
	return &RedisMarker{rdb: rdb, owner: uuid.NewString()}
}

func (m *RedisMarker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return utils.AcquireMarker(ctx, m.rdb, key, m.owner, ttl)
}

// Release drops the claim only if this process still holds it.
func (m *RedisMarker) Release(ctx context.Context, key string) error {
	return utils.ReleaseMarker(ctx, m.rdb, key, m.owner)
}

// MemoryMarker is a single-process Marker for tests and dev.
type MemoryMarker struct {
	c *cache.Cache
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{c: cache.New(time.Minute, time.Minute)}
}

func (m *MemoryMarker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// Add fails when an unexpired item exists.
	return m.c.Add(key, struct{}{}, ttl) == nil, nil
}

func (m *MemoryMarker) Release(ctx context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
