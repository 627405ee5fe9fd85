package vecstore

import (
	"context"

	"semsearch/internal/config"
	"semsearch/internal/errkind"
)

// NewFromSettings builds the configured backend.
// Providers: "pgvector" (default), "sqlite", "memory".
func NewFromSettings(ctx context.Context, cfg *config.Settings) (Store, error) {
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "pgvector":
		if cfg.DatabaseURL == "" {
			return nil, errkind.New(errkind.Validation, "SEMSEARCH_DATABASE_URL is required for the pgvector provider")
		}
		return NewPG(ctx, PGOptions{
			DSN:            cfg.DatabaseURL,
			Dim:            cfg.Dim,
			Metric:         metric,
			PoolSize:       cfg.PoolSize,
			AcquireTimeout: cfg.AcquireTimeout,
			Retries:        cfg.StoreRetries,
		})
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "semsearch.db"
		}
		return NewSQLite(path, cfg.Dim, metric)
	case "memory":
		return NewMemory(cfg.Dim, metric), nil
	}
	return nil, errkind.New(errkind.Validation, "unknown vector provider %q", cfg.Provider)
}
