package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"
)

const (
	localHost     = "127.0.0.1:5432"
	localDatabase = "escrow_stress"
	localRole     = "escrow_test"
	localPassword = "pass"
)

// ErrNoLocalPostgres reports that pg_isready could not reach 127.0.0.1:5432.
var ErrNoLocalPostgres = errors.New("infra: local postgres is not running")

// InitLocalDatabase drops and recreates the escrow_stress database on a local
// server and returns a DSN for the escrow_test role that owns it.
func InitLocalDatabase(ctx context.Context) (string, error) {
	if err := exec.CommandContext(ctx, "pg_isready", "-h", "127.0.0.1", "-p", "5432").Run(); err != nil {
		return "", ErrNoLocalPostgres
	}

	admin, err := connectAdmin(ctx)
	if err != nil {
		return "", err
	}
	defer admin.Close(ctx)

	db := pgx.Identifier{localDatabase}.Sanitize()
	role := pgx.Identifier{localRole}.Sanitize()
	steps := []struct {
		what string
		sql  string
	}{
		{"create role", fmt.Sprintf("DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$", role, localPassword)},
		{"drop database", "DROP DATABASE IF EXISTS " + db},
		{"create database", fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role)},
		{"grant", fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", db, role)},
	}

	// Leftover sessions from an aborted run would block the drop.
	_, _ = admin.Exec(ctx, "SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()", localDatabase)
	for _, step := range steps {
		if _, err := admin.Exec(ctx, step.sql); err != nil {
			return "", fmt.Errorf("infra: %s: %w", step.what, err)
		}
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", localRole, localPassword, localHost, localDatabase), nil
}

func connectAdmin(ctx context.Context) (*pgx.Conn, error) {
	user := os.Getenv("USER")
	candidates := []string{
		"postgres://postgres@" + localHost + "/postgres?sslmode=disable",
		"postgres://postgres:postgres@" + localHost + "/postgres?sslmode=disable",
		"postgres://" + user + "@" + localHost + "/postgres?sslmode=disable",
		"postgres://" + user + ":postgres@" + localHost + "/postgres?sslmode=disable",
	}

	var errs []error
	for _, dsn := range candidates {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("infra: connect as admin: %w", errors.Join(errs...))
}
