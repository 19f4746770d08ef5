package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// DefaultSize is the L1 capacity when none is configured
const DefaultSize = 128

// Store is an out-of-process byte store used as the second tier
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// TTLFor returns how long a payload of dataType stays fresh. Zero means no expiry.
func TTLFor(dataType provider.DataType) time.Duration {
	switch dataType {
	case provider.DataPrices:
		return time.Hour
	case provider.DataMetrics, provider.DataLineItems:
		return 2 * time.Hour
	case provider.DataNews:
		return 30 * time.Minute
	default:
		return 0
	}
}

// Key joins a data type and its identifying parts: prices:AAPL:2024-01-01:2024-01-31
func Key(dataType provider.DataType, parts ...string) string {
	return string(dataType) + ":" + strings.Join(parts, ":")
}

func dataTypeOf(key string) provider.DataType {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return provider.DataType(key[:i])
	}
	return provider.DataType(key)
}

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Stats counts lookups per tier
type Stats struct {
	L1Hits int64 `json:"l1_hits"`
	L2Hits int64 `json:"l2_hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Tiered is an in-process LRU in front of an optional Store
// ⭐ SSOT: all cached provider payloads live here
type Tiered struct {
	l1     *lru.Cache[string, entry]
	l2     Store
	logger *logger.Logger
	now    func() time.Time

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
}

// NewTiered creates a cache with size L1 entries; l2 may be nil
func NewTiered(size int, l2 Store, log *logger.Logger) (*Tiered, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l1, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Tiered{l1: l1, l2: l2, logger: log, now: time.Now}, nil
}

// Get returns the value for key, consulting L1 then L2 and back-filling L1 on an L2 hit.
// L2 errors are logged and treated as a miss.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if e, ok := t.l1.Get(key); ok {
		if !e.expired(t.now()) {
			t.l1Hits.Add(1)
			return e.value, true
		}
		t.l1.Remove(key)
	}

	if t.l2 != nil {
		value, ok, err := t.l2.Get(ctx, key)
		if err != nil {
			t.logger.WithError(err).WithField("key", key).Warn("L2 cache get failed")
		} else if ok {
			t.l2Hits.Add(1)
			t.l1.Add(key, t.newEntry(value, TTLFor(dataTypeOf(key))))
			return value, true
		}
	}

	t.misses.Add(1)
	return nil, false
}

// Set writes both tiers. An L2 failure is logged and does not fail the write.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	t.l1.Add(key, t.newEntry(value, ttl))
	if t.l2 == nil {
		return
	}
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		t.logger.WithError(err).WithField("key", key).Warn("L2 cache set failed")
	}
}

// Delete removes key from both tiers
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.l1.Remove(key)
	if t.l2 == nil {
		return
	}
	if err := t.l2.Delete(ctx, key); err != nil {
		t.logger.WithError(err).WithField("key", key).Warn("L2 cache delete failed")
	}
}

// Purge empties L1 only
func (t *Tiered) Purge() {
	t.l1.Purge()
}

// Stats returns a snapshot of the counters
func (t *Tiered) Stats() Stats {
	return Stats{
		L1Hits: t.l1Hits.Load(),
		L2Hits: t.l2Hits.Load(),
		Misses: t.misses.Load(),
		Size:   t.l1.Len(),
	}
}

// Close closes the L2 store
func (t *Tiered) Close() error {
	if t.l2 == nil {
		return nil
	}
	return t.l2.Close()
}

func (t *Tiered) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = t.now().Add(ttl)
	}
	return e
}
