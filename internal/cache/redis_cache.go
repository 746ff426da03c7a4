package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"distro-backend/internal/core"
)

const stockPositionsKey = "stock:positions"

// RedisStockCache caches the full stock position listing under a short TTL.
// Mutations do not invalidate it; staleness is bounded by the TTL alone.
type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockCache) GetPositions(ctx context.Context) ([]core.StockPosition, bool, error) {
	val, err := c.client.Get(ctx, stockPositionsKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var positions []core.StockPosition
	if err := json.Unmarshal([]byte(val), &positions); err != nil {
		return nil, false, err
	}
	return positions, true, nil
}

func (c *RedisStockCache) SetPositions(ctx context.Context, positions []core.StockPosition, ttl time.Duration) error {
	if positions == nil {
		return nil
	}
	payload, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stockPositionsKey, payload, ttl).Err()
}
