package commands

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/memory"
	mongostore "github.com/xraph/courier/store/mongo"
	"github.com/xraph/courier/store/postgres"
	redisstore "github.com/xraph/courier/store/redis"
	"github.com/xraph/courier/store/sqlite"
)

// openStore connects the backend named by cfg.Driver.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return memory.New(), nil

	case DriverPostgres:
		drv := pgdriver.New()
		if err := drv.Open(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(db), nil

	case DriverSQLite:
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.New(db), nil

	case DriverMongo:
		drv := mongodriver.New()
		if err := drv.Open(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return mongostore.New(db), nil

	case DriverRedis:
		drv := redisdriver.New()
		if err := drv.Open(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		kvStore, err := kv.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return redisstore.New(kvStore), nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
