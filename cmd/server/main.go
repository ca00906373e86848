package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/webhook-relay/internal/api"
	"github.com/Priya8975/webhook-relay/internal/config"
	"github.com/Priya8975/webhook-relay/internal/engine"
	"github.com/Priya8975/webhook-relay/internal/observability"
	"github.com/Priya8975/webhook-relay/internal/store"
	ws "github.com/Priya8975/webhook-relay/internal/websocket"
	"github.com/Priya8975/webhook-relay/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Storage: PostgreSQL when configured, otherwise process memory
	var st store.Store
	healthChecks := map[string]api.Pinger{}
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		if err := pgStore.RunMigrations(ctx, store.Migrations()); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")
		st = pgStore
		healthChecks["postgres"] = pgStore
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	// Retry deferral: Redis when configured, otherwise in-process timers
	var (
		scheduler  engine.Scheduler
		retryQueue api.QueueDepther
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL, cfg.NumWorkers+1)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		redisScheduler := engine.NewRedisScheduler(redisStore.Client(), cfg.NumWorkers, cfg.RetryPollInterval, logger)
		scheduler = redisScheduler
		retryQueue = redisScheduler
		healthChecks["redis"] = redisStore
	} else {
		logger.Warn("REDIS_URL not set, pending retries will not survive a restart")
		scheduler = engine.NewTimerScheduler()
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	deliverer := worker.NewDeliverer(st, logger, worker.DelivererConfig{
		UserAgent: cfg.UserAgent,
		Hub:       hub,
		Metrics:   metrics,
	})

	dispatcher := engine.NewDispatcher(st, deliverer, scheduler, logger, engine.Config{
		DisableThreshold: cfg.DisableThreshold,
		Hub:              hub,
		Metrics:          metrics,
	})
	dispatcher.Start()

	router := api.NewRouter(api.Deps{
		Store:          st,
		Dispatcher:     dispatcher,
		Hub:            hub,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		RetryQueue:     retryQueue,
		HealthChecks:   healthChecks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Redis-parked retries stay queued for the next process
	dispatcher.Shutdown(shutdownCtx)
	stop()

	logger.Info("server stopped")
}
