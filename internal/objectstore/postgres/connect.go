// Package postgres is a Postgres-backed implementation of objectstore.Store
// and objectstore.RefStore.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/remind101/migrate"

	"github.com/dogmahq/dogma/internal/objectstore/postgres/migrations"
	"github.com/dogmahq/dogma/pkg/poolstats"
)

// Connect initializes a pgxpool.Pool for the given connection string and
// registers pool metrics under applicationName.
func Connect(ctx context.Context, connString string, applicationName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("objectstore/postgres: parse conn string: %w", err)
	}
	if cfg.MaxConns < 4 {
		cfg.MaxConns = 30
	}
	const appnameKey = `application_name`
	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params[appnameKey]; !ok {
		params[appnameKey] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("objectstore/postgres: create pool: %w", err)
	}

	if err := prometheus.Register(poolstats.NewCollector(pool, applicationName)); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			pool.Close()
			return nil, fmt.Errorf("objectstore/postgres: register pool metrics: %w", err)
		}
	}

	return pool, nil
}

// Migrate runs every pending schema migration against connString using a
// database/sql handle borrowed from the pgx/v5 stdlib adapter, so the schema
// is managed through remind101/migrate without introducing a second SQL
// driver for the module.
func Migrate(connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("objectstore/postgres: open migration handle: %w", err)
	}
	defer db.Close()
	return migrateWith(db)
}

func migrateWith(db *sql.DB) error {
	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = migrations.MigrationTable
	return migrator.Exec(migrate.Up, migrations.Migrations...)
}
