// Package redis stores the serialized event log under a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Client is a store.Sink backed by one Redis string value.
type Client struct {
	rdb *redis.Client
	key string
}

func NewClient(ctx context.Context, redisURL, key string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	slog.Info("[REDIS] Connected to Redis", "addr", opt.Addr, "key", key)

	return &Client{
		rdb: rdb,
		key: key,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Load returns the stored document, or nil when the key does not exist.
func (c *Client) Load(ctx context.Context) ([]byte, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("[REDIS] Failed to read log", "key", c.key, "error", err)
		return nil, err
	}
	return data, nil
}

// Save replaces the stored document. SET is atomic, so readers see either
// the previous or the new log.
func (c *Client) Save(ctx context.Context, data []byte) error {
	if err := c.rdb.Set(ctx, c.key, data, 0).Err(); err != nil {
		slog.Error("[REDIS] Failed to write log", "key", c.key, "bytes", len(data), "error", err)
		return err
	}
	return nil
}
