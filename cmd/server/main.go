package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/voxelnav/internal/api"
	"github.com/annel0/voxelnav/internal/app"
	"github.com/annel0/voxelnav/internal/cache"
	"github.com/annel0/voxelnav/internal/codec"
	"github.com/annel0/voxelnav/internal/config"
	"github.com/annel0/voxelnav/internal/eventbus"
	"github.com/annel0/voxelnav/internal/logging"
	"github.com/annel0/voxelnav/internal/observability"
	"github.com/annel0/voxelnav/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $VOXELNAV_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	logging.EnableFileOutput(cfg.Logging.ToFile)
	if cfg.Logging.ToFile {
		if err := logging.InitDefaultLogger(cfg.Logging.Component); err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
		defer logging.CloseDefaultLogger()
		defer logging.GetLoggerManager().CloseAll()
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	logging.SetConsoleLevel(level)

	logging.Info("🛰️ Запуск voxelnav...")

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === TELEMETRY ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logging.Warn("⚠️ Остановка OpenTelemetry: %v", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === STORAGE ===
	archive, err := storage.NewScanArchive(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open scan archive: %w", err)
	}
	defer archive.Close()

	// === EVENT BUS ===
	var bus eventbus.EventBus
	switch cfg.EventBus.Kind {
	case "jetstream":
		js, err := eventbus.NewJetStreamBus(eventbus.JetStreamConfig{
			URL:           cfg.EventBus.URL,
			Stream:        cfg.EventBus.Stream,
			SubjectPrefix: cfg.EventBus.Subject,
			Retention:     time.Duration(cfg.EventBus.Retention) * time.Hour,
			Durable:       cfg.EventBus.Durable,
		})
		if err != nil {
			return fmt.Errorf("connect jetstream: %w", err)
		}
		bus = js
	default:
		bus = eventbus.NewMemoryBus(cfg.EventBus.Buffer)
	}
	defer bus.Close()

	exporter := eventbus.NewMetricsExporter(bus, registry)
	exporter.Start()
	defer exporter.Stop()

	if logSub, err := eventbus.StartLoggingListener(bus); err == nil {
		defer logSub.Unsubscribe()
	} else {
		logging.Warn("⚠️ Логирование событий недоступно: %v", err)
	}

	// === CACHE ===
	var invalidator *cache.NATSInvalidator
	if cfg.EventBus.Invalidation {
		invalidator, err = cache.NewNATSInvalidator(cache.InvalidatorConfig{NATSURL: cfg.EventBus.URL}, uuid.NewString())
		if err != nil {
			return fmt.Errorf("connect invalidator: %w", err)
		}
		defer invalidator.Close()
	}

	scanCache, err := newScanCache(cfg, archive, invalidator)
	if err != nil {
		return err
	}
	defer scanCache.Close()

	compressor, err := codec.New(cfg.Ingest.Compression, cfg.Ingest.CompressionLevel)
	if err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	store := cache.NewScanStore(scanCache, compressor, cfg.Ingest.TTL)

	// === SERVICE ===
	svc, err := app.NewNavigationService(app.Options{
		Profile:       cfg.Navigation.Profile,
		Presets:       cfg.Navigation.Presets,
		SurfaceRadius: cfg.Navigation.SurfaceSearchRadius,
		MaxExpansions: cfg.Navigation.MaxExpansions,
		PlanTimeout:   cfg.Navigation.PlanTimeout,
		MaxSamples:    cfg.Navigation.MaxSamples,
		RejectStale:   cfg.Ingest.RejectStale,
		DefaultSource: cfg.Ingest.DefaultSource,
		Store:         store,
		Bus:           bus,
		Registerer:    registry,
	})
	if err != nil {
		return fmt.Errorf("navigation service: %w", err)
	}
	if _, err := svc.Restore(ctx, cfg.Ingest.DefaultSource); err != nil {
		if cache.IsCacheMiss(err) {
			logging.Info("📭 Сохранённого скана %s нет, ждём первый", cfg.Ingest.DefaultSource)
		} else {
			logging.Warn("⚠️ Не удалось восстановить карту: %v", err)
		}
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()
	if invalidator != nil {
		if err := svc.WatchInvalidations(ctx, invalidator); err != nil {
			return fmt.Errorf("watch invalidations: %w", err)
		}
	}

	// === REST API ===
	restPort := cfg.Server.GetRESTPort()
	metricsPort := cfg.Server.GetMetricsPort()
	rest := api.NewRestServer(api.Config{
		Port:          fmt.Sprintf(":%d", restPort),
		ServiceName:   cfg.Telemetry.ServiceName,
		Service:       svc,
		Registry:      registry,
		APIToken:      cfg.Server.APIToken,
		CacheMetrics:  scanCache.GetMetrics,
		BusStats:      bus.Metrics,
		ExposeMetrics: metricsPort == 0 || metricsPort == restPort,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- rest.Start() }()

	var metricsServer *http.Server
	if metricsPort != 0 && metricsPort != restPort {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rest.MetricsHandler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logging.Info("📊 Prometheus: http://localhost:%d/metrics", metricsPort)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("   🚌 Шина событий: %s", cfg.EventBus.Kind)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case runErr = <-errCh:
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return runErr
}

// newScanCache выбирает горячий кеш: Redis или память, оба поверх архива Badger
func newScanCache(cfg *config.Config, archive *storage.ScanArchive, invalidator *cache.NATSInvalidator) (cache.ScanCache, error) {
	cacheCfg := cache.CacheConfig{
		RedisURL:           cfg.Ingest.RedisURL,
		RedisPassword:      cfg.Ingest.RedisPassword,
		RedisDB:            cfg.Ingest.RedisDB,
		DefaultTTL:         cfg.Ingest.TTL,
		WriteBehindEnabled: cfg.Ingest.WriteBehind,
	}
	var inv cache.ScanInvalidator
	if invalidator != nil {
		inv = invalidator
	}
	if cfg.Ingest.Cache == "redis" {
		c, err := cache.NewRedisScanCache(cacheCfg, archive, inv)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return c, nil
	}
	return cache.NewMemoryScanCache(cacheCfg, archive, inv), nil
}
