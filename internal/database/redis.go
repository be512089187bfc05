package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client shared by the quota store and the deep health check
type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects to redisURL (redis:// or rediss://) and pings it.
// Quota scripts are short, so the timeouts fail a reservation fast instead of holding a reading.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	r := NewRedisFromClient(redis.NewClient(opts))
	if err := r.Ping(ctx); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return r, nil
}

// NewRedisFromClient wraps an existing client, such as a cluster or failover client
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Client returns the client the quota store runs its scripts on
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
