package maintenance

import (
	"fmt"
	"os"

	"powercast/config"
	"powercast/pkg/storage"
	"powercast/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Run performs the periodic storage upkeep pass: make sure the index exists
// (rebuilding from the storage tree when it is missing), sweep files past
// retention, reconcile the index, and report statistics.
func Run(cfg *config.Config, logger *zap.Logger) error {
	format := storage.Format(cfg.Storage.Format)
	if format != storage.FormatParquet && format != storage.FormatCSV {
		return fmt.Errorf("unsupported storage format %q", cfg.Storage.Format)
	}

	manager, err := storage.NewManager(cfg.Storage.Root, format, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	if cfg.Archive.Enabled {
		dsn := cfg.Archive.Postgres.DSN(cfg.Log.Environment)
		serverDSN := cfg.Archive.Postgres.ServerDSN(cfg.Log.Environment)
		client, err := postgres.InitializeAndMigrate(dsn, serverDSN, cfg.Archive.Postgres.DBName, true)
		if err != nil {
			return fmt.Errorf("failed to connect to archive DB: %w", err)
		}
		defer client.Close()
		manager.WithArchive(client)
	}

	// A missing or empty index means the tree was populated out of band;
	// rebuild from the filenames.
	stats, err := manager.Index().Statistics()
	if err != nil {
		return err
	}
	if stats.TotalEntries == 0 {
		if _, statErr := os.Stat(cfg.Storage.Root); statErr == nil {
			res, err := manager.Index().Rebuild()
			if err != nil {
				return err
			}
			logger.Info("index rebuilt from storage tree",
				zap.Int("indexed", res.Indexed),
				zap.Int("skipped", res.Skipped))
		}
	}

	if _, err := manager.Maintain(cfg.Storage.RetentionDays); err != nil {
		return err
	}

	stats, err = manager.Index().Statistics()
	if err != nil {
		return err
	}
	logger.Info("storage statistics",
		zap.Int("total_entries", stats.TotalEntries),
		zap.Int("fallback_count", stats.FallbackCount),
		zap.Int("non_fallback_count", stats.NonFallbackCount),
		zap.Time("min_timestamp", stats.MinTimestamp),
		zap.Time("max_timestamp", stats.MaxTimestamp),
		zap.Time("newest_generation", stats.NewestGeneration))
	return nil
}
