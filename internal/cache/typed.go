package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// GetTyped decodes a msgpack payload. A payload that fails to decode is evicted and reported as a miss.
func GetTyped[T any](ctx context.Context, t *Tiered, key string) (T, bool) {
	var out T
	raw, ok := t.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		t.logger.WithError(err).WithField("key", key).Warn("Evicting undecodable cache entry")
		t.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

// SetTyped encodes v with msgpack and writes it with ttl
func SetTyped[T any](ctx context.Context, t *Tiered, key string, v T, ttl time.Duration) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	t.Set(ctx, key, raw, ttl)
	return nil
}
