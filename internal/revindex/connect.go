package revindex

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/dogmahq/dogma/internal/revindex/migrations"
)

// Migrate runs every pending schema migration for the revision index
// against connString.
func Migrate(connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("revindex: open migration handle: %w", err)
	}
	defer db.Close()

	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = migrations.MigrationTable
	return migrator.Exec(migrate.Up, migrations.Migrations...)
}
