package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/redis"
)

var (
	mu       sync.Mutex
	instance *Tiered
	shared   *redis.Client
)

// Init builds the process cache from config; later calls return the existing instance.
// When Redis is enabled but unreachable the cache runs L1-only and logs a warning.
func Init(cfg *config.Config, log *logger.Logger) (*Tiered, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance, nil
	}

	var l2 Store
	if cfg.Redis.Enabled {
		client, err := redis.New(context.Background(), cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, running with in-process cache only")
		} else {
			shared = client
			l2 = redis.NewStore(client, "hedgefund")
		}
	}

	t, err := NewTiered(cfg.Router.CacheSize, l2, log)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	instance = t
	return instance, nil
}

// Redis returns the connection behind the process cache's L2 tier, nil when
// there is none. It is closed by Close.
func Redis() *redis.Client {
	mu.Lock()
	defer mu.Unlock()
	return shared
}

// Default returns the process cache, creating an L1-only one if Init was never called
func Default() *Tiered {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance, _ = NewTiered(DefaultSize, nil, logger.Nop())
	}
	return instance
}

// Close closes and forgets the process cache
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance, shared = nil, nil
	return err
}

// Reset forgets the process cache without closing it, for tests
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	instance, shared = nil, nil
}
