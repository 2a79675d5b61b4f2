package registry

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dogmahq/dogma"
)

// uniqueViolation is the Postgres SQLSTATE for a unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// asDogmaError unwraps err looking for a *dogma.Error, so callers that
// wrap storage/transaction errors in one further up pgx.BeginFunc's
// callback don't have it buried under a generic transaction failure.
func asDogmaError(err error) (*dogma.Error, bool) {
	var derr *dogma.Error
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}
