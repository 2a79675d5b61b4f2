package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"

	"github.com/dogmahq/dogma/internal/objectstore"
)

// compressMinSize is the smallest payload worth paying zstd's frame
// overhead for.
const compressMinSize = 256

const (
	compressionNone byte = 0
	compressionZstd byte = 1
)

var psql = goqu.Dialect("postgres")

// Store is a Postgres-backed objectstore.Store and objectstore.RefStore
// scoped to a single repository.
type Store struct {
	pool         *pgxpool.Pool
	repositoryID uuid.UUID

	enc *zstd.Encoder
	dec *zstd.Decoder

	initialized uint32
}

var (
	_ objectstore.Store    = (*Store)(nil)
	_ objectstore.RefStore = (*Store)(nil)
)

// New returns a Store for the given repository, backed by pool.
func New(pool *pgxpool.Pool, repositoryID uuid.UUID) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore/postgres: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore/postgres: new decoder: %w", err)
	}
	return &Store{pool: pool, repositoryID: repositoryID, enc: enc, dec: dec}, nil
}

// Insert implements objectstore.Store.
func (s *Store) Insert(ctx context.Context, typ objectstore.Type, data []byte) (objectstore.ID, error) {
	id := objectstore.Sum(data)

	payload := data
	compression := compressionNone
	if len(data) >= compressMinSize {
		payload = s.enc.EncodeAll(data, make([]byte, 0, len(data)))
		compression = compressionZstd
	}

	q := psql.Insert("objectstore_object").
		Rows(goqu.Record{
			"repository_id": s.repositoryID,
			"id":            id[:],
			"type":          int(typ),
			"compression":   int(compression),
			"size":          len(data),
			"data":          payload,
		}).
		OnConflict(goqu.DoNothing())

	sql, args, err := q.ToSQL()
	if err != nil {
		return objectstore.ID{}, fmt.Errorf("objectstore/postgres: build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return objectstore.ID{}, fmt.Errorf("objectstore/postgres: insert object: %w", err)
	}
	return id, nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, id objectstore.ID, typeHint objectstore.Type) (objectstore.Type, []byte, bool, error) {
	q := psql.Select("type", "compression", "data").
		From("objectstore_object").
		Where(goqu.Ex{"repository_id": s.repositoryID, "id": id[:]})

	sql, args, err := q.ToSQL()
	if err != nil {
		return 0, nil, false, fmt.Errorf("objectstore/postgres: build select: %w", err)
	}

	var (
		rawType     int
		compression int
		payload     []byte
	)
	err = s.pool.QueryRow(ctx, sql, args...).Scan(&rawType, &compression, &payload)
	switch {
	case err == pgx.ErrNoRows:
		return 0, nil, false, nil
	case err != nil:
		return 0, nil, false, fmt.Errorf("objectstore/postgres: get object: %w", err)
	}

	typ := objectstore.Type(rawType)
	if typeHint != 0 && typeHint != typ {
		return 0, nil, false, fmt.Errorf("objectstore/postgres: object %s is a %s, not a %s", id, typ, typeHint)
	}

	data := payload
	if compression == int(compressionZstd) {
		data, err = s.dec.DecodeAll(payload, nil)
		if err != nil {
			return 0, nil, false, fmt.Errorf("objectstore/postgres: decompress object %s: %w", id, err)
		}
	}
	return typ, data, true, nil
}

// Contains implements objectstore.Store.
func (s *Store) Contains(ctx context.Context, id objectstore.ID) (bool, error) {
	q := psql.Select(goqu.L("1")).
		From("objectstore_object").
		Where(goqu.Ex{"repository_id": s.repositoryID, "id": id[:]}).
		Limit(1)

	sql, args, err := q.ToSQL()
	if err != nil {
		return false, fmt.Errorf("objectstore/postgres: build exists: %w", err)
	}

	var ignored int
	err = s.pool.QueryRow(ctx, sql, args...).Scan(&ignored)
	switch {
	case err == pgx.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("objectstore/postgres: contains object: %w", err)
	}
	return true, nil
}

// SetRef implements objectstore.RefStore.
func (s *Store) SetRef(ctx context.Context, name string, id objectstore.ID) error {
	q := psql.Insert("objectstore_ref").
		Rows(goqu.Record{
			"repository_id": s.repositoryID,
			"name":          name,
			"object_id":     id[:],
			"updated_at":    goqu.L("now()"),
		}).
		OnConflict(goqu.DoUpdate("repository_id, name", goqu.Record{
			"object_id":  id[:],
			"updated_at": goqu.L("now()"),
		}))

	sql, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("objectstore/postgres: build set ref: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("objectstore/postgres: set ref %q: %w", name, err)
	}
	return nil
}

// GetRef implements objectstore.RefStore.
func (s *Store) GetRef(ctx context.Context, name string) (objectstore.ID, bool, error) {
	q := psql.Select("object_id").
		From("objectstore_ref").
		Where(goqu.Ex{"repository_id": s.repositoryID, "name": name})

	sql, args, err := q.ToSQL()
	if err != nil {
		return objectstore.ID{}, false, fmt.Errorf("objectstore/postgres: build get ref: %w", err)
	}

	var raw []byte
	err = s.pool.QueryRow(ctx, sql, args...).Scan(&raw)
	switch {
	case err == pgx.ErrNoRows:
		return objectstore.ID{}, false, nil
	case err != nil:
		return objectstore.ID{}, false, fmt.Errorf("objectstore/postgres: get ref %q: %w", name, err)
	}

	var id objectstore.ID
	if len(raw) != len(id) {
		return objectstore.ID{}, false, fmt.Errorf("objectstore/postgres: ref %q has malformed object id", name)
	}
	copy(id[:], raw)
	return id, true, nil
}
