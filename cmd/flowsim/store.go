package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rom8726/flowsim"
	"github.com/rom8726/flowsim/internal/config"
)

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (flowsim.Store, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		store, err := flowsim.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { _ = store.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()

			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := flowsim.RunMigrations(ctx, pool); err != nil {
			pool.Close()

			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}

		return flowsim.NewPostgresStore(pool), pool.Close, nil
	default:
		return flowsim.NewMemoryStore(), func() {}, nil
	}
}
