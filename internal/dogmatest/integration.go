// Package dogmatest is a helper for running Postgres-backed integration
// tests.
//
// Unlike the rest of the module, tests in this package talk to a real
// Postgres instance: set DOGMA_TEST_DSN to a superuser-capable DSN (for
// example, one pointed at a disposable container) to enable them. Tests
// that call [NeedDB] are skipped when it is unset, so "go test ./..." stays
// usable without a database on hand.
package dogmatest

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NeedDB skips the current test or benchmark unless DOGMA_TEST_DSN is set.
//
// This should be used as an annotation at the top of the function, like
// (*testing.T).Parallel().
//
//	func TestThatTouchesPostgres(t *testing.T) {
//		t.Parallel()
//		dogmatest.NeedDB(t)
//		// ...
//	}
func NeedDB(t testing.TB) string {
	dsn := os.Getenv("DOGMA_TEST_DSN")
	if dsn == "" {
		t.Skip("DOGMA_TEST_DSN not set, skipping Postgres-backed test")
	}
	return dsn
}

const (
	createRole      = `CREATE ROLE %s LOGIN;`
	createDatabase  = `CREATE DATABASE %[2]s WITH OWNER %[1]s ENCODING 'UTF8';`
	killConnections = `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`
	dropDatabase    = `DROP DATABASE %s;`
	dropRole        = `DROP ROLE %s;`
)

// NewDB creates a scratch database and role on the server named by dsn, runs
// the statements in schema against it, and returns a handle for connecting
// to it. Close must be called to tear the database back down.
func NewDB(ctx context.Context, t testing.TB, dsn, schema string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	database := fmt.Sprintf("dogma_test_%x", rand.Uint64())
	role := fmt.Sprintf("dogma_role_%x", rand.Uint64())

	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(createRole, role)); err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(createDatabase, role, database)); err != nil {
		return nil, err
	}
	if err := conn.Close(ctx); err != nil {
		return nil, err
	}

	cfg.ConnConfig.Database = database
	cfg.ConnConfig.User = role
	conn, err = pgx.ConnectConfig(ctx, cfg.ConnConfig)
	if err != nil {
		return nil, err
	}
	if schema != "" {
		if _, err := conn.Exec(ctx, schema); err != nil {
			return nil, err
		}
	}
	if err := conn.Close(ctx); err != nil {
		return nil, err
	}
	t.Logf("scratch database: %s (role %s)", database, role)

	return &DB{dsn: dsn, cfg: cfg}, nil
}

// DB is a handle for a scratch database created by [NewDB].
type DB struct {
	dsn string
	cfg *pgxpool.Config
}

// Config returns a pgxpool.Config for the created database.
func (db *DB) Config() *pgxpool.Config {
	return db.cfg
}

// Close tears down the created database and role.
func (db *DB) Close(ctx context.Context, t testing.TB) {
	cfg, err := pgxpool.ParseConfig(db.dsn)
	if err != nil {
		panic(err) // Should never happen: db.dsn parsed fine in NewDB.
	}
	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, killConnections, db.cfg.ConnConfig.Database); err != nil {
		t.Error(err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(dropDatabase, db.cfg.ConnConfig.Database)); err != nil {
		t.Error(err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(dropRole, db.cfg.ConnConfig.User)); err != nil {
		t.Error(err)
	}
	db.cfg = nil
}
