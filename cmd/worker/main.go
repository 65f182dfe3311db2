// Package main provides the headless worker for the auction scanner. It runs
// the discovery scheduler and the rule engine without the HTTP API; matches
// reach consumers through the log and the Redis feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auction-scanner/internal/config"
	"github.com/auction-scanner/internal/crawler"
	"github.com/auction-scanner/internal/indexer"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/notifier"
	"github.com/auction-scanner/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "Run a single indexing cycle and exit without the rule engine")
	flag.Parse()

	fmt.Println("Auction Scanner Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithComponent("worker")

	backend, err := storage.OpenBackend(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer backend.Close()

	scheduler, err := indexer.FromConfig(cfg, backend.Items, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create indexing scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if *once {
		go func() {
			<-sigCh
			logger.Info("Shutdown signal received, cancelling cycle")
			cancel()
		}()

		result, err := scheduler.RunCycle(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Indexing cycle failed")
		}
		logger.WithFields(map[string]interface{}{
			"duration":  result.Duration.String(),
			"upserts":   result.UpsertsAttempted,
			"failed":    result.UpsertsFailed,
			"new":       result.New,
			"changed":   result.Changed,
			"unchanged": result.Unchanged,
			"dropped":   result.Dropped,
			"archived":  result.Archived,
			"retired":   result.Retired,
		}).Info("Indexing cycle finished")
		return
	}

	notifiers := notifier.Multi{notifier.NewLogNotifier(logger)}
	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, match feed disabled")
		} else {
			defer redis.Close()
			notifiers = append(notifiers, notifier.NewRedisNotifier(redis.Client(), cfg.Database.Redis.FeedKey, cfg.Database.Redis.FeedMaxLen))
		}
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

	if err := engine.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start rule engine")
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start indexing scheduler")
	}
	logger.WithField("rules", len(engine.GetActiveRules())).Info("Worker started")

	<-sigCh
	logger.Info("Shutdown signal received, stopping scheduler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping indexing scheduler")
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping rule engine")
	}

	status := scheduler.Status()
	logger.WithFields(map[string]interface{}{
		"cycles": status.Cycles,
		"halted": status.Halted,
	}).Info("Worker stopped")
}
