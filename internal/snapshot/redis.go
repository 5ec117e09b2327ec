package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares snapshots across processes; Redis handles expiry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool) {
	data, err := c.client.Get(ctx, "snapshot:"+key).Bytes()
	if err != nil {
		return nil, false // miss or unreachable; caller re-queries
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (c *RedisCache) Set(ctx context.Context, key string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "snapshot:"+key, data, c.ttl).Err()
}

// Len is best-effort: a shared Redis may time keys out between calls.
func (c *RedisCache) Len() int {
	keys, err := c.client.Keys(context.Background(), "snapshot:*").Result()
	if err != nil {
		return 0
	}
	return len(keys)
}

func (c *RedisCache) Close() error { return c.client.Close() }
