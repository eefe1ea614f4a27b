package infra

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// sharedDSNEnv names a database the stress run reuses instead of starting
// its own. Runs against it are isolated in a throwaway schema.
const sharedDSNEnv = "STRESS_TEST_PG_DSN"

// postgresImage is pinned to the major version the migrations target.
const postgresImage = "postgres:16-alpine"

// sharedDSN returns the first non-blank of the flag value and the
// environment override.
func sharedDSN(flag string) string {
	if dsn := strings.TrimSpace(flag); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(os.Getenv(sharedDSNEnv))
}

// dbContainer is a disposable Postgres owned by one harness. The zero value
// owns nothing and stop is a no-op, so a harness on a shared or local
// database can stop it unconditionally.
type dbContainer struct {
	pg *postgres.PostgresContainer
}

// runPostgres boots a fresh container with the repairflow role and database
// and waits until it accepts connections.
func runPostgres(ctx context.Context) (dbContainer, string, error) {
	pg, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("repairflow"),
		postgres.WithUsername("repairflow"),
		postgres.WithPassword("repairflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return dbContainer{}, "", fmt.Errorf("run %s: %w", postgresImage, err)
	}

	c := dbContainer{pg: pg}
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.stop(ctx)
		return dbContainer{}, "", fmt.Errorf("container dsn: %w", err)
	}
	return c, dsn, nil
}

func (c dbContainer) stop(ctx context.Context) error {
	if c.pg == nil {
		return nil
	}
	return c.pg.Terminate(ctx)
}
