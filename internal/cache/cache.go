package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socialnet/backend/internal/logger"
)

// Cache owns the process's Redis connection. The job store, event publisher
// and media lookup cache share it through Client.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to redisURL (redis://host:port/db) and verifies the
// connection with a PING.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log := logger.Default().WithComponent("cache")
	log.Info(ctx, "connected to redis", logger.Fields{"addr": opts.Addr})
	return &Cache{client: client, log: log}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, log: logger.Default().WithComponent("cache")}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// GetJSONMulti loads keys in one MGET and decodes the hits. Misses and
// undecodable entries are left out of the result.
func GetJSONMulti[T any](ctx context.Context, c *Cache, keys []string) (map[string]T, error) {
	out := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var decoded T
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			c.log.Debug(ctx, "dropping undecodable cache entry", logger.Fields{"key": keys[i]})
			continue
		}
		out[keys[i]] = decoded
	}
	return out, nil
}

// SetJSONMulti stores values under their keys with ttl in a single pipeline.
func SetJSONMulti[T any](ctx context.Context, c *Cache, values map[string]T, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, v := range values {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", key, err)
			}
			pipe.Set(ctx, key, data, ttl)
		}
		return nil
	})
	return err
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
