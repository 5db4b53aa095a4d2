package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/voxelnav/internal/logging"
)

// RedisScanCache реализует ScanCache поверх Redis.
// Промах читается из Cold Storage (Read-Through), запись уходит
// в Cold Storage через Write-Behind.
type RedisScanCache struct {
	client      *redis.Client
	config      CacheConfig
	coldStorage ColdStorage
	invalidator ScanInvalidator
	wb          *writeBehind

	hits    hitCounter
	latency latencyRecorder
}

// NewRedisScanCache подключается к Redis и проверяет соединение.
// coldStorage и invalidator необязательны.
func NewRedisScanCache(config CacheConfig, coldStorage ColdStorage, invalidator ScanInvalidator) (*RedisScanCache, error) {
	config.applyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := &RedisScanCache{
		client:      rdb,
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
	}
	if config.WriteBehindEnabled && coldStorage != nil {
		c.wb = newWriteBehind(coldStorage, config.WriteBehindInterval, config.WriteBehindBatchSize)
	}

	logging.Info("🗄️ Redis кеш сканов подключён: %s (write-behind: %v)", config.RedisURL, c.wb != nil)
	return c, nil
}

// Get получает скан из Redis, при промахе: из Cold Storage.
func (r *RedisScanCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.latency.record(start)
	r.hits.requests.Add(1)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		r.hits.hits.Add(1)
		return val, nil
	}
	r.hits.misses.Add(1)

	if !errors.Is(err, redis.Nil) {
		logging.Error("❌ Redis Get %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	if r.coldStorage != nil {
		val, err := r.coldStorage.Load(ctx, key)
		if err == nil {
			r.hits.coldHits.Add(1)
			// Прогреваем горячий кеш без повторной записи в архив
			if setErr := r.client.Set(ctx, key, val, r.config.DefaultTTL).Err(); setErr != nil {
				logging.Warn("⚠️ Не удалось прогреть Redis для %s: %v", key, setErr)
			}
			return val, nil
		}
		logging.Debug("Cold storage miss for key %s: %v", key, err)
	}
	return nil, ErrCacheMiss
}

// Set сохраняет скан в Redis и ставит его в очередь Write-Behind.
func (r *RedisScanCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer r.latency.record(start)

	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}
	if ttl > r.config.MaxTTL {
		ttl = r.config.MaxTTL
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logging.Error("❌ Redis Set %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}

	if r.wb != nil {
		r.wb.enqueue(ctx, key, value)
	} else if r.coldStorage != nil {
		if err := r.coldStorage.Store(ctx, key, value); err != nil {
			return fmt.Errorf("cold storage store: %w", err)
		}
	}

	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			logging.Warn("⚠️ Не удалось разослать инвалидацию %s: %v", key, err)
		}
	}
	return nil
}

// Delete удаляет ключ из Redis.
func (r *RedisScanCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer r.latency.record(start)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		logging.Error("❌ Redis Delete %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Exists проверяет наличие ключа в Redis.
func (r *RedisScanCache) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer r.latency.record(start)

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return count > 0, nil
}

// Close останавливает Write-Behind и закрывает соединение.
func (r *RedisScanCache) Close() error {
	if r.wb != nil {
		r.wb.close()
	}
	if err := r.client.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия Redis: %v", err)
		return err
	}
	logging.Info("🗄️ Redis кеш сканов закрыт")
	return nil
}

// GetMetrics возвращает снимок метрик.
func (r *RedisScanCache) GetMetrics() *CacheMetrics {
	m := &CacheMetrics{LastUpdate: time.Now()}
	r.hits.fill(m)
	r.latency.fill(m)
	if r.wb != nil {
		m.PendingWrites = r.wb.pending()
	}
	return m
}
