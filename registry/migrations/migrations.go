// Package migrations holds the embedded schema for the project/repository
// registry, applied via remind101/migrate.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/remind101/migrate"
)

// MigrationTable is the name of the table remind101/migrate uses to track
// which migrations have already run.
const MigrationTable = "dogma_registry_migrations"

//go:embed *.sql
var fs embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := fs.ReadFile(n)
	return func(tx *sql.Tx) error {
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

// Migrations is the ordered list of schema migrations for the registry.
var Migrations = []migrate.Migration{
	{
		ID: 1,
		Up: runFile("01-init.sql"),
	},
}
