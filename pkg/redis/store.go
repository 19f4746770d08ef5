package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a byte-oriented key/value store on Redis, used as the
// out-of-process cache tier. Values are opaque to the store.
type Store struct {
	client *Client
	prefix string
}

// NewStore creates a store whose keys are namespaced under prefix
func NewStore(client *Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) key(k string) string {
	return fmt.Sprintf("%s:cache:%s", s.prefix, k)
}

// Get returns (value, found, error). A disabled client always misses.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.client.Enabled() {
		return nil, false, nil
	}

	data, err := s.client.Redis().Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores value with ttl. ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.client.Enabled() {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Redis().Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.client.Enabled() {
		return nil
	}
	return s.client.Redis().Del(ctx, s.key(key)).Err()
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}
