package db

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

const migrationsTable = "schema_migrations"

// ErrNoMigrations is returned by Down when nothing has been applied.
var ErrNoMigrations = errors.New("db: no migrations applied")

// Migrate applies every pending embedded *.up.sql file in name order, each in
// its own transaction, recording it in schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return err
	}
	applied, err := Applied(ctx, pool)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	names, err := migrationNames(".up.sql")
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := execFile(ctx, pool, name, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (name) VALUES ($1)`, name)
			return err
		}); err != nil {
			return fmt.Errorf("db: apply %s: %w", name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func Down(ctx context.Context, pool *pgxpool.Pool) error {
	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return err
	}
	applied, err := Applied(ctx, pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNoMigrations
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if err := execFile(ctx, pool, down, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM `+migrationsTable+` WHERE name = $1`, last)
		return err
	}); err != nil {
		return fmt.Errorf("db: rollback %s: %w", last, err)
	}
	return nil
}

// Applied lists applied migrations in name order.
func Applied(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM `+migrationsTable+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("db: list migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("db: scan migrations: %w", err)
	}
	return names, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
    name       text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("db: ensure %s: %w", migrationsTable, err)
	}
	return nil
}

func execFile(ctx context.Context, pool *pgxpool.Pool, name string, record func(pgx.Tx) error) error {
	body, err := fs.ReadFile(migrationFiles, "migrations/"+name)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func migrationNames(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("db: read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
