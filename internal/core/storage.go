package core

import (
	"context"
	"fmt"

	"persistkit/internal/config"
	"persistkit/internal/infra/persistence/memory"
	"persistkit/internal/infra/persistence/postgres"
	"persistkit/internal/infra/persistence/sqlite"
	"persistkit/pkg/domain"

	"github.com/rs/zerolog"
)

// StorageDriver identifies a concrete entity store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenEntityStore opens the store described by unit. An empty driver
// selects sqlite.
func OpenEntityStore(ctx context.Context, unit config.Unit, logger zerolog.Logger) (domain.EntityStore, error) {
	log := logger.With().Str("environment", unit.Environment).Logger()
	driver := StorageDriver(unit.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(
			memory.WithLogger(log),
			memory.WithQueryCacheSize(unit.QueryCacheSize),
		), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, unit.SQLitePath, sqlite.Options{QueryCacheSize: unit.QueryCacheSize, Logger: &log})
	case StoragePostgres:
		return postgres.NewStore(ctx, unit.PostgresDSN, postgres.Options{QueryCacheSize: unit.QueryCacheSize, Logger: &log})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// ConfigFactory returns a Factory opening the persistence unit cfg resolves
// for each environment.
func ConfigFactory(cfg config.Config, logger zerolog.Logger) Factory {
	return func(ctx context.Context, env string) (domain.EntityStore, error) {
		return OpenEntityStore(ctx, cfg.Unit(env), logger)
	}
}

// MemoryFactory returns a Factory opening an empty in-memory store per
// environment.
func MemoryFactory() Factory {
	return func(_ context.Context, env string) (domain.EntityStore, error) {
		return OpenEntityStore(context.Background(), config.Unit{Environment: env, Driver: string(StorageMemory)}, zerolog.Nop())
	}
}
