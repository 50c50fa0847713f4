// internal/server/stores.go
package server

import (
	"context"
	"log/slog"

	"librarycatalog/internal/config"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/store/memory"
	"librarycatalog/internal/store/postgres"
)

// OpenStores builds the stores selected by cfg.StoreDriver. For Postgres it
// connects with retry and applies the schema. The returned close func releases the pool.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Stores, func() error, error) {
	if cfg.StoreDriver == config.DriverMemory {
		store := memory.New()
		logger.Info("using in-memory store")
		return Stores{
			Users:   store,
			Catalog: store,
			Loans:   store,
			OnLoan:  store,
			Journal: eventstore.NewMemoryStore(),
		}, func() error { return nil }, nil
	}

	db, err := postgres.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, postgres.WithLogger(logger))
	if err != nil {
		return Stores{}, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return Stores{}, nil, err
	}

	store := postgres.New(db)
	logger.Info("using postgres store", slog.String("driver", cfg.StoreDriver))
	return Stores{
		Users:   store,
		Catalog: store,
		Loans:   store,
		OnLoan:  store,
		Journal: eventstore.NewPostgresStore(db),
		Ping:    store.Ping,
	}, db.Close, nil
}
