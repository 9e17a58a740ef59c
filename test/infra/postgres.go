package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"courseflow/db"
)

// ApplicationName tags every harness connection so chaos only kills our backends.
const ApplicationName = "courseflow-stress"

// Harness owns the lifecycle of the Postgres test container and pgx pool.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
}

// NewHarness boots a Postgres 16 container and applies the embedded migrations.
func NewHarness(ctx context.Context) (*Harness, error) {
	pgContainer, dsn, err := runPostgres(ctx)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, dsn, db.PoolOptions{
		MaxConns:        64,
		MaxConnIdleTime: 30 * time.Second,
		MaxConnLifetime: 5 * time.Minute,
		ApplicationName: ApplicationName,
	})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}

	h := &Harness{
		container: pgContainer,
		pool:      pool,
	}

	if err := db.Migrate(ctx, pool); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates mutable tables to provide a clean slate for next epoch.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"course_events",
		"course_participants",
		"courses",
		"participants",
		"reviewers",
		"organizational_units",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}

	return nil
}
