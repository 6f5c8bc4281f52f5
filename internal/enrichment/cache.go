package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

const (
	DefaultCacheTTL = 30 * 24 * time.Hour
	cacheKeyPrefix  = "enrichment:zip:"
)

// Cache stores enrichment records by ZIP.
type Cache interface {
	Get(ctx context.Context, zip string) (*model.EnrichmentRecord, bool, error)
	Set(ctx context.Context, zip string, rec *model.EnrichmentRecord) error
}

// RedisCache keeps JSON-encoded records in Redis with a fixed TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient connects and pings so a bad address fails at startup.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}
	return rdb, nil
}

func (c *RedisCache) Get(ctx context.Context, zip string) (*model.EnrichmentRecord, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKeyPrefix+zip).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec model.EnrichmentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode cached enrichment: %w", err)
	}
	return &rec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, zip string, rec *model.EnrichmentRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKeyPrefix+zip, raw, c.ttl).Err()
}
