package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wonny/hedgefund/pkg/config"
)

const (
	dialTimeout = 3 * time.Second
	ioTimeout   = time.Second
)

// Client wraps go-redis. A disabled client is valid: stores miss and limiters admit.
// ⭐ SSOT: the Redis connection is managed here only
type Client struct {
	rdb *redis.Client
}

// New connects and pings. It returns a disabled client when Redis is off.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection to %s failed: %w", cfg.Addr(), err)
	}
	return c, nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks the connection within dialTimeout
func (c *Client) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Enabled reports whether a connection exists
func (c *Client) Enabled() bool { return c != nil && c.rdb != nil }

// Redis returns the underlying client, nil when disabled
func (c *Client) Redis() *redis.Client { return c.rdb }

// Close closes the connection
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
