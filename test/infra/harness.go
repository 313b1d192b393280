package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options selects the database a Harness runs against.
type Options struct {
	// DSN reuses an existing database; STRESS_TEST_PG_DSN is consulted when empty.
	DSN             string
	MaxConns        int32
	ApplicationName string
}

// Harness owns the lifecycle of the test database and pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness picks a database (shared DSN, docker container, or local
// PostgreSQL in that order) and applies the embedded migrations. Shared
// databases get a private schema.
func NewHarness(ctx context.Context, opts Options) (*Harness, error) {
	h := &Harness{container: &PGContainer{}}

	dsn := opts.DSN
	if dsn == "" {
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	}
	shared := dsn != ""

	if !shared {
		var err error
		if DockerAvailable(ctx) {
			h.container, dsn, err = StartPostgres16(ctx)
			if err != nil {
				return nil, fmt.Errorf("start postgres container: %w", err)
			}
		} else {
			dsn, err = InitLocalDatabase(ctx)
			if err != nil {
				return nil, fmt.Errorf("init local database: %w", err)
			}
		}
	}
	h.dsn = dsn

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared, PoolOptions{
		MaxConns:        opts.MaxConns,
		ApplicationName: opts.ApplicationName,
	})
	if err != nil {
		_ = h.container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	h.pool = pool
	h.teardown = teardown
	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources. Errors are returned for logging only.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if terr := h.container.Terminate(ctx); terr != nil && err == nil {
		err = terr
	}
	return err
}

// Reset truncates mutable tables to provide a clean slate for the next epoch.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"idempotency",
		"outbox",
		"timeline_events",
		"agreements",
		"ledger_transfers",
		"accounts",
		"users",
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
