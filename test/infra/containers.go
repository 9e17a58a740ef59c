package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// PGContainer is a started container, or empty when an external database is reused.
type PGContainer struct {
	C *postgres.PostgresContainer
}

func runPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	pgC, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("courseflow"),
		postgres.WithUsername("courseflow"),
		postgres.WithPassword("courseflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", fmt.Errorf("resolve connection string: %w", err)
	}
	return pgC, dsn, nil
}

// StartPostgres16 returns a DSN for the stress run. overrideDSN and then
// STRESS_TEST_PG_DSN are reused as is; otherwise a container is started.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv("STRESS_TEST_PG_DSN"); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, dsn, err := runPostgres(ctx)
	if err != nil {
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
