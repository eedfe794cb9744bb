package flowsim

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type migration struct {
	version string
	sql     string
}

// loadMigrations returns the .sql files of dir ordered by name; the file name
// without extension is the migration version.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, migration{
			version: strings.TrimSuffix(entry.Name(), ".sql"),
			sql:     string(content),
		})
	}

	return migrations, nil
}

// RunMigrations applies the pending PostgreSQL migrations, each in its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := loadMigrations(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	const bootstrap = `
CREATE SCHEMA IF NOT EXISTS flowsim;
CREATE TABLE IF NOT EXISTS flowsim.schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := pool.Exec(ctx, bootstrap); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied string
		err := pool.QueryRow(ctx,
			`SELECT version FROM flowsim.schema_migrations WHERE version = $1`, m.version,
		).Scan(&applied)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}

		if err := applyPostgresMigration(ctx, pool, m); err != nil {
			return err
		}
	}

	return nil
}

func applyPostgresMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.version, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO flowsim.schema_migrations (version) VALUES ($1)`, m.version,
	); err != nil {
		return fmt.Errorf("record migration %s: %w", m.version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.version, err)
	}

	return nil
}
