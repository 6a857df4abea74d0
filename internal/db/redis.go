package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientName identifies dispatch-service connections in CLIENT LIST.
const ClientName = "dispatch-service"

// NewRedisClient opens the client shared by the notification publisher and
// the task result cache, and pings it once. A URL that already names a
// client keeps its own name.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = ClientName
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
