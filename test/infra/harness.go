package infra

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns the database the stress run works against: a container, a
// local Postgres, or a shared DSN isolated in its own schema.
type Harness struct {
	container dbContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
}

// NewHarness picks a database in this order: dsn, STRESS_TEST_PG_DSN, a
// Docker container, a local Postgres. Migrations are applied before return.
func NewHarness(ctx context.Context, dsn string) (*Harness, error) {
	h := &Harness{}
	dsn = sharedDSN(dsn)
	shared := dsn != ""

	switch {
	case shared:
	case dockerAvailable(ctx):
		c, containerDSN, err := runPostgres(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
		h.container = c
		dsn = containerDSN
	default:
		localDSN, err := InitLocalDatabase(ctx)
		if err != nil {
			return nil, fmt.Errorf("init local database: %w", err)
		}
		dsn = localDSN
	}
	h.dsn = dsn

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		_ = h.container.stop(ctx)
		return nil, err
	}
	h.pool = pool
	h.teardown = teardown
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool { return h.pool }

func (h *Harness) DSN() string { return h.dsn }

// Close drops the isolated schema (if any) and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if termErr := h.container.stop(ctx); err == nil {
		err = termErr
	}
	return err
}

// Reset truncates mutable tables between epochs. work_orders is truncated,
// not deleted, so the no-delete trigger does not fire.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"documents",
		"provider_events",
		"vendor_payments",
		"outbox",
		"timeline_events",
		"work_order_assignments",
		"work_order_quotes",
		"work_orders",
		"cost_estimations",
		"maintenance_requests",
		"vendors",
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

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
