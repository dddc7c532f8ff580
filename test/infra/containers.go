package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGContainer wraps the throwaway Postgres the stress run boots. The zero
// value stands in for a shared database that the run must not terminate.
type PGContainer struct {
	container *postgres.PostgresContainer
}

// StartPostgres16 boots a disposable Postgres 16 and returns its DSN. An
// explicit overrideDSN, or STRESS_TEST_PG_DSN in the environment, short
// circuits the container and reuses that database instead.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv("STRESS_TEST_PG_DSN"); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("ak_test"),
		postgres.WithUsername("ak"),
		postgres.WithPassword("ak_test_pw"),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{container: pgC}, dsn, nil
}

// Terminate stops the container if this run actually started one.
func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.container == nil {
		return nil
	}
	return p.container.Terminate(ctx)
}
