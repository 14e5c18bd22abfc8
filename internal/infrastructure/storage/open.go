package storage

import (
	"context"
	"fmt"

	"github.com/vitos/coin_listing_tracker/internal/config"
	"github.com/vitos/coin_listing_tracker/internal/domain"
)

var (
	_ domain.SnapshotRepository = (*SQLiteStore)(nil)
	_ domain.SnapshotRepository = (*PostgresStore)(nil)
)

// Open returns the store selected by cfg.Driver with its schema in place.
func Open(ctx context.Context, cfg config.StoreConfig) (domain.SnapshotRepository, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
