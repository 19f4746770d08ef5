package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")
	cfg := PerMinute("eastmoney", 60)

	a, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, a.Allowed)
	assert.Equal(t, cfg.Limit, a.Remaining)
	assert.Zero(t, a.RetryAfter)
	assert.NoError(t, limiter.Wait(context.Background(), cfg))
}

// Requires a reachable Redis at REDIS_TEST_ADDR
func TestRateLimiter_Window(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := NewFromClient(redis.NewClient(&redis.Options{Addr: addr}))
	defer client.Close()

	limiter := NewRateLimiter(client, fmt.Sprintf("hedgefund-test-%d", time.Now().UnixNano()))
	cfg := RateLimitConfig{Key: "burst", Limit: 2, Window: 200 * time.Millisecond}
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		a, err := limiter.Allow(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, want, a.Allowed, "call %d", i)
		if !want {
			assert.Positive(t, a.RetryAfter)
			assert.LessOrEqual(t, a.RetryAfter, cfg.Window)
		}
	}

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, cfg))
	assert.Less(t, time.Since(start), time.Second)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(disabledClient(t), "test")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute("tushare", 200)
	assert.Equal(t, "tushare", cfg.Key)
	assert.Equal(t, 200, cfg.Limit)
	assert.Equal(t, time.Minute, cfg.Window)
}

// Requires a reachable Redis at REDIS_TEST_ADDR
func TestStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := NewFromClient(redis.NewClient(&redis.Options{Addr: addr}))
	defer client.Close()

	store := NewStore(client, "hedgefund-test")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "prices:AAPL", []byte("payload"), time.Minute))
	got, found, err := store.Get(ctx, "prices:AAPL")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, store.Delete(ctx, "prices:AAPL"))
	_, found, err = store.Get(ctx, "prices:AAPL")
	require.NoError(t, err)
	assert.False(t, found)
}
