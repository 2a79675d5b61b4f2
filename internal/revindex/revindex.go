// Package revindex stores the dense, strictly-increasing mapping from a
// repository's revisions to commit object IDs, plus named references into
// that history.
package revindex

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dogmahq/dogma/internal/objectstore"
	"github.com/dogmahq/dogma/pkg/ctxlock"
)

var psql = goqu.Dialect("postgres")

// Index is the revision index and ref store for a single repository.
//
// Put enforces that revisions are assigned densely starting at 1: a Put
// for revision n only succeeds if the index's current head is exactly
// n-1. Concurrent Puts against the same repository, whether from this
// process or another, are serialized so that invariant can never be
// violated by a race.
type Index struct {
	pool         *pgxpool.Pool
	lock         ctxlock.ContextLock
	repositoryID uuid.UUID
}

// New returns an Index for repositoryID, using lock to serialize Put
// across processes and within this one.
func New(pool *pgxpool.Pool, lock ctxlock.ContextLock, repositoryID uuid.UUID) *Index {
	return &Index{pool: pool, lock: lock, repositoryID: repositoryID}
}

func (x *Index) lockKey() string {
	return "revindex:" + x.repositoryID.String()
}

// Head returns the highest revision recorded for the repository, or 0 if
// none has been recorded yet.
func (x *Index) Head(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(revision), 0) FROM revindex_revision WHERE repository_id = $1;`
	var head int64
	if err := x.pool.QueryRow(ctx, query, x.repositoryID).Scan(&head); err != nil {
		return 0, fmt.Errorf("revindex: head: %w", err)
	}
	return head, nil
}

// CommitAt returns the commit object ID recorded for revision.
func (x *Index) CommitAt(ctx context.Context, revision int64) (objectstore.ID, bool, error) {
	const query = `SELECT commit_id FROM revindex_revision WHERE repository_id = $1 AND revision = $2;`
	var raw []byte
	err := x.pool.QueryRow(ctx, query, x.repositoryID, revision).Scan(&raw)
	switch {
	case err == pgx.ErrNoRows:
		return objectstore.ID{}, false, nil
	case err != nil:
		return objectstore.ID{}, false, fmt.Errorf("revindex: commit at %d: %w", revision, err)
	}
	var id objectstore.ID
	copy(id[:], raw)
	return id, true, nil
}

// Put records that revision maps to commitID. It fails with an error
// satisfying errors.Is(err, ErrNotDense) if revision is not exactly one
// greater than the repository's current head.
func (x *Index) Put(ctx context.Context, revision int64, commitID objectstore.ID) error {
	lctx, cancel := x.lock.Lock(ctx, x.lockKey())
	defer cancel()
	if err := lctx.Err(); err != nil {
		return fmt.Errorf("revindex: acquire lock: %w", err)
	}

	return pgx.BeginFunc(lctx, x.pool, func(tx pgx.Tx) error {
		var head int64
		const headQuery = `SELECT revision FROM revindex_revision WHERE repository_id = $1 ORDER BY revision DESC LIMIT 1 FOR UPDATE;`
		err := tx.QueryRow(lctx, headQuery, x.repositoryID).Scan(&head)
		switch {
		case err == pgx.ErrNoRows:
			head = 0
		case err != nil:
			return fmt.Errorf("revindex: lock head row: %w", err)
		}
		if revision != head+1 {
			return fmt.Errorf("%w: head is %d, cannot put revision %d", ErrNotDense, head, revision)
		}

		const insert = `INSERT INTO revindex_revision (repository_id, revision, commit_id) VALUES ($1, $2, $3);`
		if _, err := tx.Exec(lctx, insert, x.repositoryID, revision, commitID[:]); err != nil {
			return fmt.Errorf("revindex: insert revision %d: %w", revision, err)
		}
		return nil
	})
}

// SetRef points name at commitID.
func (x *Index) SetRef(ctx context.Context, name string, commitID objectstore.ID) error {
	q := psql.Insert("revindex_ref").
		Rows(goqu.Record{
			"repository_id": x.repositoryID,
			"name":          name,
			"commit_id":     commitID[:],
		}).
		OnConflict(goqu.DoUpdate("repository_id, name", goqu.Record{
			"commit_id": commitID[:],
		}))
	sql, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("revindex: build set ref: %w", err)
	}
	if _, err := x.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("revindex: set ref %q: %w", name, err)
	}
	return nil
}

// GetRef returns the commit ID name currently points at.
func (x *Index) GetRef(ctx context.Context, name string) (objectstore.ID, bool, error) {
	q := psql.Select("commit_id").
		From("revindex_ref").
		Where(goqu.Ex{"repository_id": x.repositoryID, "name": name})
	sql, args, err := q.ToSQL()
	if err != nil {
		return objectstore.ID{}, false, fmt.Errorf("revindex: build get ref: %w", err)
	}
	var raw []byte
	err = x.pool.QueryRow(ctx, sql, args...).Scan(&raw)
	switch {
	case err == pgx.ErrNoRows:
		return objectstore.ID{}, false, nil
	case err != nil:
		return objectstore.ID{}, false, fmt.Errorf("revindex: get ref %q: %w", name, err)
	}
	var id objectstore.ID
	copy(id[:], raw)
	return id, true, nil
}
