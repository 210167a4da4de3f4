package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"storefront/worker/internal/cache"
	"storefront/worker/internal/config"
	"storefront/worker/internal/database"
	"storefront/worker/internal/enhance"
	"storefront/worker/internal/handlers"
	"storefront/worker/internal/jobs"
	"storefront/worker/internal/log"
	"storefront/worker/internal/metrics"
	"storefront/worker/internal/queue"
	"storefront/worker/internal/repository"
	"storefront/worker/internal/server"
	"storefront/worker/internal/storage"
	"storefront/worker/internal/tasks"
	"storefront/worker/internal/transfer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Logging.Level, cfg.Environment)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	if cfg.Postgres.Migrate {
		if err := database.Migrate(pool); err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()

	objects, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store init failed")
	}

	enhancer, err := enhance.NewClient(ctx, cfg.Gemini.APIKey, nil, enhance.Options{
		Model:       cfg.Gemini.Model,
		Instruction: cfg.Gemini.Instruction,
		Timeout:     cfg.Gemini.Timeout,
		RateLimit:   cfg.Gemini.RateLimit,
		Burst:       cfg.Gemini.Burst,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("enhancement client init failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	jobRepo := repository.NewJobRepository(pool)
	productRepo := repository.NewProductRepository(pool)

	transferClient := transfer.NewClient(objects, transfer.Options{
		Timeout:  cfg.Download.Timeout,
		MaxBytes: cfg.Download.MaxBytes,
		Logger:   logger,
	})

	worker := tasks.NewEnhancementWorker(jobRepo, productRepo, transferClient, enhancer, m, logger, tasks.WorkerOptions{
		FolderPrefix: cfg.Storage.FolderPrefix,
	})
	processor := tasks.NewProcessor(logger, worker)
	consumer := queue.NewConsumer(redisClient, cfg.Redis, cfg.Queues, logger, processor)

	var sweeper *jobs.Scheduler
	if cfg.Sweeper.Enabled {
		sweeper = jobs.NewScheduler(jobRepo, cfg.Sweeper, m, logger)
		if err := sweeper.Start(); err != nil {
			logger.Fatal().Err(err).Msg("sweeper start failed")
		}
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg.Environment, jobRepo, productRepo, pool, redisClient)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet, registry)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Start(ctx)
	}()

	logger.Info().
		Str("model", enhancer.Model()).
		Str("stream", cfg.Redis.Stream).
		Int("concurrency", cfg.Queues.Concurrency).
		Msg("worker started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	case err := <-consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		}
		consumerDone <- nil
	}
	stop()

	if err := <-consumerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped with error")
	}

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	logger.Info().Msg("worker stopped")
}
