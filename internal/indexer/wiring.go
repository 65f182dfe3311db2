package indexer

import (
	"fmt"

	"github.com/auction-scanner/internal/adapter"
	"github.com/auction-scanner/internal/config"
	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/logging"
	"github.com/auction-scanner/internal/normalizer"
	"github.com/auction-scanner/internal/ratelimit"
	"github.com/auction-scanner/internal/storage"
	"github.com/auction-scanner/internal/types"
)

// FromConfig wires the pacer, marketplace client and normalizer described by
// cfg into a scheduler over store.
func FromConfig(cfg *config.Config, store storage.Store, logger *logging.Logger) (*Scheduler, error) {
	locations, unknown := types.ResolveLocations(cfg.Indexer.Locations)
	if len(unknown) > 0 {
		return nil, errors.NewConfigurationError("INDEXER_LOCATIONS", fmt.Sprintf("unknown location ids %v", unknown))
	}

	pacer, err := ratelimit.NewPacer(&ratelimit.PacerConfig{
		PageDelay:         cfg.Indexer.PageDelay,
		LocationDelay:     cfg.Indexer.LocationDelay,
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
	})
	if err != nil {
		return nil, errors.NewConfigurationError("pacer", err.Error())
	}

	clientCfg := adapter.ConfigFromMarketplace(&cfg.Marketplace, pacer)
	clientCfg.Logger = logger
	client, err := adapter.NewMarketplaceClient(clientCfg)
	if err != nil {
		return nil, err
	}

	return NewScheduler(&SchedulerConfig{
		Store:      store,
		Fetcher:    client,
		Normalizer: normalizer.New(cfg.Marketplace.SiteBaseURL),
		Pacer:      pacer,
		Locations:  locations,
		MaxPages:   cfg.Marketplace.MaxPages,
		Interval:   cfg.Indexer.Interval,
		RunOnStart: cfg.Indexer.RunOnStart,
		Logger:     logger,
	})
}
