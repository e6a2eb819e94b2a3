// Package main is the entry point of the achievement engine service. It
// wires persistence, the two-tier cache, the condition evaluator, the
// trigger engine, and the performance monitor, then runs until a shutdown
// signal arrives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guildforge/achievement-engine/config"
	"github.com/guildforge/achievement-engine/internal/cache"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
	"github.com/guildforge/achievement-engine/internal/engine"
	"github.com/guildforge/achievement-engine/internal/evaluator"
	"github.com/guildforge/achievement-engine/internal/infrastructure/messaging"
	"github.com/guildforge/achievement-engine/internal/infrastructure/persistence/postgres"
	redisstore "github.com/guildforge/achievement-engine/internal/infrastructure/persistence/redis"
	"github.com/guildforge/achievement-engine/internal/monitor"
	"github.com/guildforge/achievement-engine/pkg/logger"
	"github.com/guildforge/achievement-engine/pkg/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := logger.LevelInfo
	if cfg.App.Debug {
		logLevel = logger.LevelDebug
	}
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logLevel,
		AddCaller: true,
	}).With(logger.String("app", cfg.App.Name), logger.String("version", cfg.App.Version))

	log.Info("starting achievement engine",
		logger.String("environment", string(cfg.App.Environment)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────

	var conn *postgres.Connection
	err = retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		var err error
		if cfg.Database.URL != "" {
			conn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		} else {
			conn, err = postgres.NewConnection(ctx, postgres.Config{
				Host:            cfg.Database.Host,
				Port:            cfg.Database.Port,
				Database:        cfg.Database.Database,
				User:            cfg.Database.User,
				Password:        cfg.Database.Password,
				SSLMode:         cfg.Database.SSLMode,
				MaxConns:        cfg.Database.MaxConns,
				MinConns:        cfg.Database.MinConns,
				MaxConnLifetime: cfg.Database.ConnMaxLifetime,
				MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
				ConnectTimeout:  cfg.Database.ConnectTimeout,
			})
		}
		return retry.Retryable(err)
	})
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer conn.Close()

	if cfg.Database.RunMigrations {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")
	}

	repo := postgres.NewBreakerRepository(postgres.NewAchievementRepository(conn, log), log)

	// ── Event bus ─────────────────────────────────────────────────────────

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.EventBus.AsyncMode,
		WorkerPoolSize: cfg.EventBus.WorkerPoolSize,
		Logger:         slog.Default(),
		EnableMetrics:  true,
	})
	defer bus.Close()

	// ── Cache ─────────────────────────────────────────────────────────────

	var l2 cache.L2Store
	if !cfg.Redis.Disabled {
		var store *redisstore.L2Store
		err := retry.CacheStoreRetrier().Do(ctx, func(ctx context.Context) error {
			var err error
			store, err = redisstore.NewL2Store(redisstore.Config{
				Host:         cfg.Redis.Host,
				Port:         cfg.Redis.Port,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
				DialTimeout:  cfg.Redis.DialTimeout,
				ReadTimeout:  cfg.Redis.ReadTimeout,
				WriteTimeout: cfg.Redis.WriteTimeout,
			})
			return retry.Retryable(err)
		})
		if err != nil {
			// An unreachable L2 at boot is a degradation, not a fatal
			// error; the engine serves from L1 and the database.
			log.Warn("persisted cache tier unavailable, running L1-only", logger.Err(err))
		} else {
			l2 = store
			defer store.Close()
		}
	}

	cacheManager := cache.NewManager(cache.Config{
		Types: map[string]cache.TypeConfig{
			engine.CacheTypeAchievement: {
				MaxSize: cfg.Cache.Achievement.MaxSize,
				TTL:     cfg.Cache.Achievement.TTL,
			},
			engine.CacheTypeProgress: {
				MaxSize: cfg.Cache.Progress.MaxSize,
				TTL:     cfg.Cache.Progress.TTL,
			},
		},
		Default: cache.TypeConfig{
			MaxSize: cfg.Cache.Default.MaxSize,
			TTL:     cfg.Cache.Default.TTL,
		},
		SweepInterval: cfg.Cache.SweepInterval,
	}, l2, bus, log)
	cacheManager.Start(ctx)
	defer cacheManager.Stop()

	// ── Monitor ───────────────────────────────────────────────────────────

	mon := monitor.New(monitor.Config{
		MaxSamples:         cfg.Monitor.MaxSamples,
		SlowCheckThreshold: cfg.Monitor.SlowCheckThreshold,
		Thresholds: map[string]monitor.Thresholds{
			monitor.MetricCheckLatency: {
				Warning:  cfg.Monitor.LatencyWarningMs,
				Critical: cfg.Monitor.LatencyCriticalMs,
			},
			monitor.MetricMemoryUsage: {
				Warning:  cfg.Monitor.MemoryWarningMB,
				Critical: cfg.Monitor.MemoryCriticalMB,
			},
		},
		AlertCooldown:        cfg.Monitor.AlertCooldown,
		MemorySampleInterval: cfg.Monitor.MemorySampleInterval,
		MaxAlertHistory:      cfg.Monitor.MaxAlertHistory,
	}, bus, log)
	mon.Start(ctx)
	defer mon.Stop()

	// ── Engine ────────────────────────────────────────────────────────────

	registry, err := loadTriggerRegistry(cfg.Engine.TriggerConfigPath, log)
	if err != nil {
		return fmt.Errorf("trigger configs: %w", err)
	}

	eval := evaluator.New(repo, log)
	eng := engine.New(engine.Config{
		WindowMaxSamples: cfg.Engine.WindowMaxSamples,
		EventHistoryMax:  cfg.Engine.EventHistoryMax,
	}, repo, eval, cacheManager, registry, mon, bus, log)

	batch := engine.NewBatchProcessor(eng, cfg.Batch.Concurrency, log)

	if _, err := eng.WarmUp(ctx); err != nil {
		log.Warn("cache warm-up failed, serving cold", logger.Err(err))
	}

	mon.RegisterGauge(monitor.MetricCacheHitRate, func() float64 {
		var hits, misses uint64
		for _, s := range cacheManager.Stats() {
			hits += s.Hits
			misses += s.Misses
		}
		if hits+misses == 0 {
			return 1
		}
		return float64(hits) / float64(hits+misses)
	})
	mon.RegisterGauge(monitor.MetricEventQueueSize, func() float64 {
		return float64(bus.Pending())
	})

	srv := newAdminServer(cfg.App, eng, batch, cacheManager, mon, bus, log)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			log.Error("admin server stopped", logger.Err(err))
			stop()
		}
	}()

	log.Info("achievement engine ready")

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	report := mon.Health()
	log.Info("final health report",
		logger.HealthScore(report.Score),
		logger.String("state", string(report.State)))

	return nil
}

// loadTriggerRegistry reads declarative trigger configs from a JSON file.
// No file configured means no type-level gating.
func loadTriggerRegistry(path string, log *logger.Logger) (*trigger.Registry, error) {
	registry := trigger.NewRegistry()
	if path == "" {
		return registry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var configs []trigger.Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, c := range configs {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	log.Info("trigger configs registered", logger.Int("count", registry.Len()))
	return registry, nil
}
