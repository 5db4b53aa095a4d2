package cache

import (
	"context"
	"errors"
	"time"
)

// ScanCache хранит последний сырой скан каждого источника радара.
// Двухуровневая схема: Hot Cache (Redis или память) + Cold Storage (Badger).
//
// Использование:
//
//	c := NewMemoryScanCache(cfg, archive)
//	err := c.Set(ctx, ScanKey("radar-1"), data, 0)
//	data, err := c.Get(ctx, ScanKey("radar-1"))
type ScanCache interface {
	// Get получает значение по ключу. При промахе читает из Cold Storage.
	// Возвращает ErrCacheMiss если ключ не найден нигде.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с TTL. TTL = 0: значение по умолчанию из конфигурации.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ и рассылает инвалидацию.
	Delete(ctx context.Context, key string) error

	// Exists проверяет наличие ключа в горячем кеше.
	Exists(ctx context.Context, key string) (bool, error)

	// Close останавливает write-behind и закрывает соединения.
	Close() error

	// GetMetrics возвращает снимок метрик.
	GetMetrics() *CacheMetrics
}

// ColdStorage постоянное хранилище сканов.
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	BatchStore(ctx context.Context, items map[string][]byte) error
	Close() error
}

// ScanInvalidator рассылает между экземплярами сервиса уведомления о новом скане.
type ScanInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомление об обновлении ключа.
type InvalidationHandler func(key string) error

// CacheMetrics метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	ColdHits      int64   `json:"cold_hits"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	PendingWrites int64 `json:"pending_writes"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig конфигурация кеша сканов.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	WriteBehindEnabled   bool          `yaml:"write_behind_enabled"`
	WriteBehindInterval  time.Duration `yaml:"write_behind_interval"`
	WriteBehindBatchSize int           `yaml:"write_behind_batch_size"`

	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// applyDefaults заполняет нулевые поля значениями по умолчанию
func (c *CacheConfig) applyDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 24 * time.Hour
	}
	if c.WriteBehindInterval == 0 {
		c.WriteBehindInterval = 5 * time.Second
	}
	if c.WriteBehindBatchSize == 0 {
		c.WriteBehindBatchSize = 16
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
}

// Ошибки кеша
var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrInvalidKey = errors.New("invalid key")
	ErrClosed     = errors.New("cache closed")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// KeyPrefix префикс ключей сканов
const KeyPrefix = "voxelnav:scan:"

// ScanKey ключ последнего скана источника
func ScanKey(source string) string {
	return KeyPrefix + source
}

// SourceFromKey извлекает имя источника из ключа
func SourceFromKey(key string) (string, bool) {
	if len(key) <= len(KeyPrefix) || key[:len(KeyPrefix)] != KeyPrefix {
		return "", false
	}
	return key[len(KeyPrefix):], true
}
