package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxelnav/internal/navigation"
	"github.com/annel0/voxelnav/internal/voxelmap"
)

// Config корневая структура конфигурации сервиса.
type Config struct {
	Navigation NavigationConfig `yaml:"navigation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NavigationConfig профиль проходимости по умолчанию и лимиты поиска
type NavigationConfig struct {
	Profile             navigation.PassabilityProfile            `yaml:"profile"`
	Presets             map[string]navigation.PassabilityProfile `yaml:"presets"`
	SurfaceSearchRadius int                                      `yaml:"surface_search_radius"`
	MaxExpansions       int                                      `yaml:"max_expansions"`
	PlanTimeout         time.Duration                            `yaml:"plan_timeout"`
	MaxSamples          int                                      `yaml:"max_samples"`
}

// IngestConfig кеш сырых сканов
type IngestConfig struct {
	// Cache "memory" или "redis"
	Cache            string        `yaml:"cache"`
	RedisURL         string        `yaml:"redis_url"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisDB          int           `yaml:"redis_db"`
	TTL              time.Duration `yaml:"ttl"`
	Compression      string        `yaml:"compression"`
	CompressionLevel string        `yaml:"compression_level"`
	WriteBehind      bool          `yaml:"write_behind"`
	DefaultSource    string        `yaml:"default_source"`
	RejectStale      bool          `yaml:"reject_stale"`
}

// EventBusConfig шина событий
type EventBusConfig struct {
	// Kind "memory" или "jetstream"
	Kind      string `yaml:"kind"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Subject   string `yaml:"subject_prefix"`
	Retention int    `yaml:"retention_hours"`
	Durable   string `yaml:"durable"`
	Buffer    int    `yaml:"buffer"`
	// Invalidation рассылка обновлений кеша между экземплярами через NATS
	Invalidation bool `yaml:"invalidation"`
}

// StorageConfig архив сканов; пустой DataDir: архив в памяти
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig порты HTTP
type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	APIToken    string `yaml:"api_token"`
}

// TelemetryConfig OpenTelemetry
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig уровень консольного логирования
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Component string `yaml:"component"`
	ToFile    bool   `yaml:"to_file"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Navigation: NavigationConfig{
			Profile:             navigation.DefaultProfile(),
			SurfaceSearchRadius: voxelmap.DefaultSurfaceSearchRadius,
			MaxExpansions:       2_000_000,
			PlanTimeout:         10 * time.Second,
			MaxSamples:          10_000,
		},
		Ingest: IngestConfig{
			Cache:            "memory",
			TTL:              10 * time.Minute,
			Compression:      "zstd",
			CompressionLevel: "default",
			DefaultSource:    "radar",
			RejectStale:      true,
		},
		EventBus: EventBusConfig{
			Kind:      "memory",
			Stream:    "VOXELNAV",
			Subject:   "voxelnav",
			Retention: 1,
			Buffer:    256,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voxelnav",
		},
		Logging: LoggingConfig{
			Level:     "INFO",
			Component: "voxelnav",
		},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXELNAV_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus порт с поддержкой fallback значений.
// 0 в конфиге и в окружении: метрики на REST-порту.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXELNAV_METRICS_PORT", 0)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// applyEnv подставляет адреса внешних сервисов из окружения, если они не заданы
func (c *Config) applyEnv() {
	if c.Server.APIToken == "" {
		c.Server.APIToken = os.Getenv("VOXELNAV_API_TOKEN")
	}
	if c.Ingest.RedisURL == "" {
		if v := os.Getenv("VOXELNAV_REDIS_URL"); v != "" {
			c.Ingest.RedisURL = v
			if c.Ingest.Cache == "" || c.Ingest.Cache == "memory" {
				c.Ingest.Cache = "redis"
			}
		}
	}
	if c.EventBus.URL == "" {
		if v := os.Getenv("VOXELNAV_NATS_URL"); v != "" {
			c.EventBus.URL = v
			if c.EventBus.Kind == "" || c.EventBus.Kind == "memory" {
				c.EventBus.Kind = "jetstream"
			}
		}
	}
}

// Load читает YAML поверх Default().
// Если path == "", берётся VOXELNAV_CONFIG; без файла возвращаются значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXELNAV_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность секций
func (c *Config) Validate() error {
	var errs []error
	if err := c.Navigation.Profile.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("navigation.profile: %w", err))
	}
	for name, p := range c.Navigation.Presets {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("navigation.presets.%s: %w", name, err))
		}
	}
	if c.Navigation.SurfaceSearchRadius < 0 {
		errs = append(errs, errors.New("navigation.surface_search_radius must be >= 0"))
	}
	if c.Navigation.MaxExpansions < 0 {
		errs = append(errs, errors.New("navigation.max_expansions must be >= 0"))
	}
	if c.Navigation.MaxSamples < 0 {
		errs = append(errs, errors.New("navigation.max_samples must be >= 0"))
	}
	switch c.Ingest.Cache {
	case "", "memory":
	case "redis":
		if c.Ingest.RedisURL == "" {
			errs = append(errs, errors.New("ingest.redis_url is required for redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("ingest.cache: unknown kind %q", c.Ingest.Cache))
	}
	switch c.Ingest.Compression {
	case "", "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("ingest.compression: unknown codec %q", c.Ingest.Compression))
	}
	switch c.EventBus.Kind {
	case "", "memory":
		if c.EventBus.Invalidation {
			errs = append(errs, errors.New("eventbus.invalidation requires jetstream"))
		}
	case "jetstream":
		if c.EventBus.URL == "" {
			errs = append(errs, errors.New("eventbus.url is required for jetstream"))
		}
	default:
		errs = append(errs, fmt.Errorf("eventbus.kind: unknown kind %q", c.EventBus.Kind))
	}
	return errors.Join(errs...)
}

// Preset возвращает именованный профиль или профиль по умолчанию для пустого имени
func (c *Config) Preset(name string) (navigation.PassabilityProfile, bool) {
	if name == "" {
		return c.Navigation.Profile, true
	}
	p, ok := c.Navigation.Presets[name]
	return p, ok
}
