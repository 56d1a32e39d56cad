// Package main is the entry point of the experiment engine API.
//
// The API process serves the full engine surface: experiment registration
// and lifecycle, deterministic assignment resolution, observation ingestion,
// analysis runs, integrity checks, and the planning calculator. Background
// sweeps (SRM watching, finalizing overdue experiments) run in the worker
// process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exp-hub/experiment-engine/config"
	"github.com/exp-hub/experiment-engine/internal/application/command"
	"github.com/exp-hub/experiment-engine/internal/application/eventhandler"
	"github.com/exp-hub/experiment-engine/internal/application/query"
	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/sequential"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/messaging"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/persistence/postgres"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/persistence/redis"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/service"
	httpapi "github.com/exp-hub/experiment-engine/internal/interface/http"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, slogger := setupLoggers(cfg)
	log.Info("starting experiment engine API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	experimentRepo := postgres.NewExperimentRepository(dbConn)
	observationRepo := postgres.NewObservationRepository(dbConn)
	resultRepo := postgres.NewResultRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional: bandit counters and the result cache)
	// ─────────────────────────────────────────────────────────────────────────
	var counterStore service.CounterStore
	var resultCacher command.ResultCacher
	var resultReader query.ResultCacheReader

	if !cfg.Redis.Disabled {
		cache, err := connectRedis(cfg)
		if err != nil {
			log.Warn("failed to connect to Redis, continuing without it", logger.Err(err))
		} else {
			defer cache.Close()
			if cfg.Features.IsEnabled(config.FeatureBanditRedisStore) {
				counterStore = redis.NewBanditStore(cache)
			}
			if cfg.Features.IsEnabled(config.FeatureResultCache) {
				rc := redis.NewResultCache(cache, cfg.Engine.ResultCacheTTL)
				resultCacher = rc
				resultReader = rc
			}
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS & HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = slogger
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	defer eventBus.Close()

	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus:            eventBus,
		WorkerPoolSize:      10,
		RetryConfig:         messaging.DefaultRetryConfig(),
		DeadLetterQueueSize: 1000,
		Logger:              slogger,
	})
	dispatcher.Use(messaging.RecoveryMiddleware(slogger))
	dispatcher.Use(messaging.LoggingMiddleware(slogger))

	srmHandler := eventhandler.NewOnSRMDetectedHandler(experimentRepo, log, eventhandler.DefaultSRMDetectedConfig())
	if err := dispatcher.Register(srmHandler.EventType(), "on_srm_detected", srmHandler.Handle); err != nil {
		return fmt.Errorf("register srm handler: %w", err)
	}
	completedHandler := eventhandler.NewOnAnalysisCompletedHandler(log)
	if err := dispatcher.Register(completedHandler.EventType(), "on_analysis_completed", completedHandler.Handle); err != nil {
		return fmt.Errorf("register analysis handler: %w", err)
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. DOMAIN SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	analyzer := analysis.NewAnalyzer(analysis.CorrectionMethod(cfg.Engine.DefaultCorrection))
	guard := sequential.NewGuard(analyzer)

	var allocator *service.AllocatorService
	if cfg.Features.IsEnabled(config.FeatureBanditAllocation) {
		allocator = service.NewAllocatorService(service.AllocatorConfig{
			Epsilon: cfg.Engine.BanditEpsilon,
			Seed:    cfg.Engine.BanditSeed,
		}, counterStore, log)

		if err := registerAdaptiveExperiments(ctx, experimentRepo, allocator); err != nil {
			return fmt.Errorf("restore adaptive experiments: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpapi.Dependencies{
		RegisterExperiment: command.NewRegisterExperimentHandler(experimentRepo, eventBus),
		StartExperiment:    command.NewStartExperimentHandler(experimentRepo, eventBus),
		IngestObservations: command.NewIngestObservationsHandler(experimentRepo, observationRepo, eventBus),
		RunAnalysis: command.NewRunAnalysisHandler(
			experimentRepo, observationRepo, resultRepo,
			analyzer, guard, resultCacher, eventBus, log,
		),
		FinalizeExperiment: command.NewFinalizeExperimentHandler(experimentRepo, guard, eventBus),
		RecordReward:       command.NewRecordRewardHandler(allocator, eventBus),

		DesignExperiment:  query.NewDesignExperimentHandler(),
		ResolveAssignment: query.NewResolveAssignmentHandler(experimentRepo, allocator, experimentRepo),
		GetResults:        query.NewGetResultsHandler(resultRepo, resultReader),
		CheckIntegrity:    query.NewCheckIntegrityHandler(experimentRepo, experimentRepo),

		Logger:        log,
		HealthChecker: dbConn,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpapi.DefaultConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverConfig.EnableCORS = cfg.HTTP.EnableCORS
	serverConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins

	server := httpapi.NewServer(serverConfig, deps)
	errCh := server.StartAsync()

	log.Info("experiment engine API is running", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLoggers builds the application logger and the slog logger the generic
// infrastructure components take.
func setupLoggers(cfg *config.Config) (*logger.Logger, *slog.Logger) {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	log := logger.New(opts)

	slogOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		slogOpts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, slogOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, slogOpts)
	}
	slogger := slog.New(handler)
	slog.SetDefault(slogger)

	return log, slogger
}

// connectRedis builds the Redis client from the URL if set, otherwise from
// the individual settings.
func connectRedis(cfg *config.Config) (*redis.Cache, error) {
	if cfg.Redis.URL != "" {
		return redis.NewCacheFromURL(cfg.Redis.URL)
	}

	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return redis.NewCache(rc)
}

// registerAdaptiveExperiments restores allocator state for every adaptive
// experiment that was running when the process last stopped.
func registerAdaptiveExperiments(ctx context.Context, repo experiment.Repository, allocator *service.AllocatorService) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	running, err := repo.ListByStatus(ctx, experiment.StatusRunning)
	if err != nil {
		return err
	}
	for _, exp := range running {
		if !exp.Adaptive {
			continue
		}
		if err := allocator.Register(ctx, exp); err != nil {
			return err
		}
	}
	return nil
}
