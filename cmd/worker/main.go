// Package main is the entry point of the experiment engine worker.
//
// The worker runs the background sweeps: the sample-ratio watcher over
// running experiments and the scheduled analysis pass that analyzes and
// finalizes experiments past their planned horizon. It shares the storage
// and event wiring with the API process but serves no traffic.
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
	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/sequential"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/messaging"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/persistence/postgres"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/persistence/redis"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/scheduler"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/scheduler/jobs"
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
	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled, nothing to run")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, slogger := setupLoggers(cfg)
	log.Info("starting experiment engine worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	experimentRepo := postgres.NewExperimentRepository(dbConn)
	observationRepo := postgres.NewObservationRepository(dbConn)
	resultRepo := postgres.NewResultRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional: keeps scheduled results in the cache)
	// ─────────────────────────────────────────────────────────────────────────
	var resultCacher command.ResultCacher
	if !cfg.Redis.Disabled {
		cache, err := connectRedis(cfg)
		if err != nil {
			log.Warn("failed to connect to Redis, continuing without it", logger.Err(err))
		} else {
			defer cache.Close()
			if cfg.Features.IsEnabled(config.FeatureResultCache) {
				resultCacher = redis.NewResultCache(cache, cfg.Engine.ResultCacheTTL)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS & HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = slogger
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	defer eventBus.Close()

	dispatcher := messaging.NewDispatcher(messaging.DefaultDispatcherConfig(eventBus))
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
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	analyzer := analysis.NewAnalyzer(analysis.CorrectionMethod(cfg.Engine.DefaultCorrection))
	guard := sequential.NewGuard(analyzer)

	runAnalysisHandler := command.NewRunAnalysisHandler(
		experimentRepo, observationRepo, resultRepo,
		analyzer, guard, resultCacher, eventBus, log,
	)
	finalizeHandler := command.NewFinalizeExperimentHandler(experimentRepo, guard, eventBus)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER & JOBS
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = slogger
	sched := scheduler.NewScheduler(schedConfig)
	sched.OnJobError(func(jobName string, err error) {
		log.Error("background job failed", logger.String("job", jobName), logger.Err(err))
	})

	if cfg.Features.IsEnabled(config.FeatureSRMWatch) {
		srmSchedule, err := scheduleFor(cfg.Scheduler.SRMWatchCron, cfg.Scheduler.SRMWatchInterval)
		if err != nil {
			return fmt.Errorf("srm watch schedule: %w", err)
		}
		srmJob := jobs.NewSRMWatchJob(
			experimentRepo, experimentRepo, eventBus, log, jobs.DefaultSRMWatchConfig(),
		)
		if err := sched.Register(srmJob, srmSchedule); err != nil {
			return fmt.Errorf("register srm watch job: %w", err)
		}
	}

	analysisSchedule, err := scheduleFor(cfg.Scheduler.ScheduledAnalysisCron, cfg.Scheduler.ScheduledAnalysisInterval)
	if err != nil {
		return fmt.Errorf("scheduled analysis schedule: %w", err)
	}
	analysisJob := jobs.NewScheduledAnalysisJob(
		experimentRepo, runAnalysisHandler, finalizeHandler,
		eventBus, log, jobs.DefaultScheduledAnalysisConfig(),
	)
	if err := sched.Register(analysisJob, analysisSchedule); err != nil {
		return fmt.Errorf("register scheduled analysis job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info("worker is running",
		logger.Duration("srm_watch_interval", cfg.Scheduler.SRMWatchInterval),
		logger.Duration("analysis_interval", cfg.Scheduler.ScheduledAnalysisInterval),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", logger.Err(err))
	}
	if m := sched.GetMetrics(); m != nil {
		snap := m.Snapshot()
		log.Info("job totals",
			logger.Int64("executions", snap.TotalExecutions),
			logger.Int64("failures", snap.TotalFailures),
		)
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// scheduleFor builds a cron schedule when an expression is configured,
// otherwise falls back to the fixed interval.
func scheduleFor(cronExpr string, interval time.Duration) (scheduler.Schedule, error) {
	if cronExpr != "" {
		return scheduler.ParseCronSchedule(cronExpr)
	}
	return scheduler.NewIntervalSchedule(interval), nil
}

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
