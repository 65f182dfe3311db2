package storage

import (
	"fmt"

	"github.com/auction-scanner/internal/config"
	"github.com/auction-scanner/internal/logging"
)

// Backend is the item store and rule store selected by configuration.
type Backend struct {
	Items Store
	Rules RuleStore
}

// Close releases the backend's connections
func (b *Backend) Close() {
	if b.Items != nil {
		b.Items.Close()
	}
}

// OpenBackend connects to the configured backend. Postgres migrations are
// applied first when AutoMigrate is set.
func OpenBackend(cfg *config.Config, logger *logging.Logger) (*Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on exit")
		mem := NewMemoryStore()
		return &Backend{Items: mem, Rules: mem}, nil

	case "postgres":
		if cfg.Storage.AutoMigrate {
			logger.WithField("path", cfg.Storage.MigrationsPath).Info("Applying Postgres migrations")
			if err := RunMigrations(cfg.Database.Postgres.URL(), cfg.Storage.MigrationsPath); err != nil {
				return nil, err
			}
		}
		db, err := NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"host":     cfg.Database.Postgres.Host,
			"database": cfg.Database.Postgres.Database,
		}).Info("Connected to Postgres")
		return &Backend{Items: NewPostgresStore(db), Rules: NewPostgresRuleRepository(db)}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
