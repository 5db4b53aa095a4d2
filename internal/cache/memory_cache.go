package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryScanCache горячий кеш в памяти процесса. Используется, когда Redis
// не настроен, и в тестах. Семантика та же, что у RedisScanCache.
type MemoryScanCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool

	config      CacheConfig
	coldStorage ColdStorage
	invalidator ScanInvalidator
	wb          *writeBehind
	now         func() time.Time

	hits    hitCounter
	latency latencyRecorder
}

// NewMemoryScanCache создаёт кеш в памяти. coldStorage и invalidator необязательны.
func NewMemoryScanCache(config CacheConfig, coldStorage ColdStorage, invalidator ScanInvalidator) *MemoryScanCache {
	config.applyDefaults()
	c := &MemoryScanCache{
		entries:     make(map[string]memoryEntry),
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
		now:         time.Now,
	}
	if config.WriteBehindEnabled && coldStorage != nil {
		c.wb = newWriteBehind(coldStorage, config.WriteBehindInterval, config.WriteBehindBatchSize)
	}
	return c
}

func (c *MemoryScanCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer c.latency.record(start)
	c.hits.requests.Add(1)

	c.mu.RLock()
	e, ok := c.entries[key]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok && c.now().Before(e.expiresAt) {
		c.hits.hits.Add(1)
		return cloneBytes(e.value), nil
	}
	c.hits.misses.Add(1)

	if c.coldStorage != nil {
		if val, err := c.coldStorage.Load(ctx, key); err == nil {
			c.hits.coldHits.Add(1)
			c.put(key, val, c.config.DefaultTTL)
			return cloneBytes(val), nil
		}
	}
	return nil, ErrCacheMiss
}

func (c *MemoryScanCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer c.latency.record(start)

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if ttl > c.config.MaxTTL {
		ttl = c.config.MaxTTL
	}
	if !c.put(key, value, ttl) {
		return ErrClosed
	}

	if c.wb != nil {
		c.wb.enqueue(ctx, key, cloneBytes(value))
	} else if c.coldStorage != nil {
		if err := c.coldStorage.Store(ctx, key, value); err != nil {
			return err
		}
	}
	if c.invalidator != nil {
		_ = c.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

func (c *MemoryScanCache) put(key string, value []byte, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.entries[key] = memoryEntry{value: cloneBytes(value), expiresAt: c.now().Add(ttl)}
	return true
}

func (c *MemoryScanCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryScanCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return ok && c.now().Before(e.expiresAt), nil
}

func (c *MemoryScanCache) Close() error {
	if c.wb != nil {
		c.wb.close()
	}
	c.mu.Lock()
	c.closed = true
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

func (c *MemoryScanCache) GetMetrics() *CacheMetrics {
	m := &CacheMetrics{LastUpdate: time.Now()}
	c.hits.fill(m)
	c.latency.fill(m)
	if c.wb != nil {
		m.PendingWrites = c.wb.pending()
	}
	return m
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
