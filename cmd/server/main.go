// Package main provides the API server entry point for the auction scanner.
// It hosts the HTTP API, the indexing scheduler and the rule engine in one
// process because the results buffer lives in memory.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/auction-scanner/internal/api"
	"github.com/auction-scanner/internal/config"
	"github.com/auction-scanner/internal/crawler"
	"github.com/auction-scanner/internal/indexer"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/notifier"
	"github.com/auction-scanner/internal/storage"
)

func main() {
	fmt.Println("Auction Scanner API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":   cfg.Logging.Level,
		"format":  cfg.Logging.Format,
		"backend": cfg.Storage.Backend,
	}).Info("Structured logging initialized")

	backend, err := storage.OpenBackend(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer backend.Close()

	// Notifiers always log. Redis adds the match feed and the search cache.
	notifiers := notifier.Multi{notifier.NewLogNotifier(logger)}
	items := backend.Items
	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, match feed and search cache disabled")
		} else {
			defer redis.Close()
			notifiers = append(notifiers, notifier.NewRedisNotifier(redis.Client(), cfg.Database.Redis.FeedKey, cfg.Database.Redis.FeedMaxLen))
			items = storage.NewCachedStore(backend.Items, redis.Client(), cfg.Database.Redis.SearchCacheTTL, logger)
			logger.WithFields(map[string]interface{}{
				"feedKey":  cfg.Database.Redis.FeedKey,
				"cacheTTL": cfg.Database.Redis.SearchCacheTTL.String(),
			}).Info("Redis connected")
		}
	}

	// The scheduler writes through the cache so its writes invalidate it.
	// The rule engine reads the store directly.
	scheduler, err := indexer.FromConfig(cfg, items, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create indexing scheduler")
	}

	engine, err := crawler.NewEngine(&crawler.EngineConfig{
		Store:          backend.Items,
		RuleStore:      backend.Rules,
		Notifier:       notifiers,
		Retention:      cfg.Crawler.ResultRetention,
		IntervalUnit:   cfg.Crawler.IntervalUnit,
		SearchPageSize: cfg.Crawler.SearchPageSize,
		Logger:         logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create rule engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start rule engine")
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start indexing scheduler")
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.RateLimitBurst,
	}, items, engine, scheduler, logger)

	go func() {
		if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Indexing scheduler did not stop cleanly")
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Rule engine did not stop cleanly")
	}
	cancel()

	logger.Info("Server exited")
}
