package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgelink/internal/analytics"
	"edgelink/internal/bus"
	"edgelink/internal/common/httpx"
	"edgelink/internal/common/logging"
	"edgelink/internal/common/utils"
	"edgelink/internal/config"
	"edgelink/internal/dispatch"
	"edgelink/internal/events"
	"edgelink/internal/geo"
	"edgelink/internal/ingest"
	"edgelink/internal/links"
	"edgelink/internal/rules"
	"edgelink/internal/server"
	"edgelink/internal/storage"
	"edgelink/internal/storage/postgres"
	"edgelink/internal/storage/sqlite"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level: logging.ParseLevel(cfg.LogLevel),
		Name:  "edgelink",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Storage and the bus may come up after us in orchestrated deploys;
	// retry briefly before giving up.
	startupRetry := utils.RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}

	var store storage.Storage
	err = utils.RetryWithBackoff(context.Background(), startupRetry, func() error {
		var err error
		store, err = storage.NewStorage(storageConfig(cfg))
		return err
	})
	if err != nil {
		logger.Error("Failed to initialize storage", err)
		os.Exit(1)
	}
	defer store.Close()

	var eventBus bus.Bus
	err = utils.RetryWithBackoff(context.Background(), startupRetry, func() error {
		var err error
		eventBus, err = buildBus(cfg, logger)
		return err
	})
	if err != nil {
		logger.Error("Failed to initialize event bus", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolution path: cached rule snapshots feeding the decision engine.
	ruleCache := rules.NewCache(store, cfg.RuleCacheTTL, logger)
	engine := rules.NewEngine(ruleCache, logger)

	geoResolver := geo.NewResolver(cfg.GeoIPDatabasePath, logger)
	defer geoResolver.Close()

	// Click pipeline: fire-and-forget recording off the redirect path.
	pipeline := ingest.NewPipeline(ingest.Config{
		QueueSize:    cfg.IngestQueueSize,
		Workers:      cfg.IngestWorkers,
		DedupeWindow: cfg.DedupeWindow,
	}, store, eventBus, logger)
	pipeline.Start(ctx)
	defer pipeline.Stop()

	// Webhook dispatcher consumes every event kind.
	dispatcher := dispatch.NewDispatcher(store, httpx.NewClient(
		httpx.WithTimeout(cfg.WebhookTimeout),
	), utils.RetryConfig{
		MaxAttempts:   cfg.WebhookMaxAttempts,
		InitialDelay:  cfg.WebhookInitialDelay,
		MaxDelay:      cfg.WebhookMaxDelay,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}, logger)

	kinds := make([]string, len(events.AllKinds))
	for i, k := range events.AllKinds {
		kinds[i] = string(k)
	}
	if err := eventBus.Subscribe(ctx, "webhook-dispatcher", kinds, dispatcher.HandleEvent); err != nil {
		logger.Error("Failed to subscribe dispatcher", err)
		os.Exit(1)
	}

	// Scheduled rollups from the click log.
	aggregator := analytics.NewAggregator(analytics.Config{
		Schedule: cfg.AggregationSchedule,
		Lookback: cfg.AggregationLookback,
	}, store, logger)
	if err := aggregator.Start(ctx); err != nil {
		logger.Error("Failed to start aggregator", err)
		os.Exit(1)
	}
	defer aggregator.Stop()

	// Frees slugs held by tombstones past the retention window.
	pruner := links.NewPruner(links.PrunerConfig{
		Schedule:  cfg.PruneSchedule,
		Retention: cfg.RetentionWindow,
	}, store, logger)
	if err := pruner.Start(ctx); err != nil {
		logger.Error("Failed to start pruner", err)
		os.Exit(1)
	}
	defer pruner.Stop()

	linkService := links.NewService(store, ruleCache, eventBus, logger)

	handlers := server.NewHandlers(engine, pipeline, store, linkService, geoResolver, eventBus,
		cfg.PrimaryHost, logger)
	srv := server.New(handlers.Router(), cfg.Port)

	logger.Info("edgelink starting",
		logging.Field{Key: "port", Value: cfg.Port},
		logging.Field{Key: "database", Value: cfg.DatabaseType},
		logging.Field{Key: "bus", Value: cfg.BusType},
	)
	if err := srv.Start(); err != nil {
		logger.Error("Server failed to start", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", err)
	}

	// Stop handing out events, then let in-flight delivery chains finish.
	cancel()
	dispatcher.Wait()
}

func storageConfig(cfg *config.Config) storage.StorageConfig {
	if cfg.DatabaseType == "postgres" || cfg.DatabaseType == "postgresql" {
		return &postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		}
	}
	return &sqlite.Config{DatabasePath: cfg.DatabasePath}
}

func buildBus(cfg *config.Config, logger logging.Logger) (bus.Bus, error) {
	if cfg.BusType == "redis" {
		return bus.NewRedisBus(&bus.RedisConfig{
			Address:      cfg.RedisAddress,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			StreamPrefix: cfg.StreamPrefix,
			ConsumerName: cfg.ConsumerName,
		}, logger)
	}
	return bus.NewMemoryBus(logger), nil
}
