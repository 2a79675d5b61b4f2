package revindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dogmahq/dogma/internal/dogmatest"
	"github.com/dogmahq/dogma/internal/objectstore"
	"github.com/dogmahq/dogma/pkg/ctxlock"
)

func setupIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	dsn := dogmatest.NeedDB(t)

	db, err := dogmatest.NewDB(ctx, t, dsn, "")
	if err != nil {
		t.Fatalf("creating scratch database: %v", err)
	}
	t.Cleanup(func() { db.Close(ctx, t) })

	cc := db.Config().ConnConfig
	connString := fmt.Sprintf("postgres://%s@%s:%d/%s", cc.User, cc.Host, cc.Port, cc.Database)
	if err := Migrate(connString); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, db.Config())
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return New(pool, new(ctxlock.Local), uuid.New())
}

func mustID(s string) objectstore.ID {
	return objectstore.Sum([]byte(s))
}

func TestIndexPutDense(t *testing.T) {
	t.Parallel()
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Put(ctx, 1, mustID("genesis")); err != nil {
		t.Fatalf("Put(1): %v", err)
	}
	if err := idx.Put(ctx, 2, mustID("second")); err != nil {
		t.Fatalf("Put(2): %v", err)
	}

	head, err := idx.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != 2 {
		t.Errorf("Head = %d, want 2", head)
	}

	id, ok, err := idx.CommitAt(ctx, 1)
	if err != nil {
		t.Fatalf("CommitAt(1): %v", err)
	}
	if !ok || id != mustID("genesis") {
		t.Errorf("CommitAt(1) = %v, %v, want genesis id", id, ok)
	}
}

func TestIndexPutRejectsGaps(t *testing.T) {
	t.Parallel()
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Put(ctx, 1, mustID("genesis")); err != nil {
		t.Fatalf("Put(1): %v", err)
	}
	err := idx.Put(ctx, 3, mustID("skip"))
	if !errors.Is(err, ErrNotDense) {
		t.Errorf("Put(3) after head 1 = %v, want ErrNotDense", err)
	}
}

func TestIndexPutRejectsReplay(t *testing.T) {
	t.Parallel()
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Put(ctx, 1, mustID("genesis")); err != nil {
		t.Fatalf("Put(1): %v", err)
	}
	err := idx.Put(ctx, 1, mustID("genesis-again"))
	if !errors.Is(err, ErrNotDense) {
		t.Errorf("Put(1) replay = %v, want ErrNotDense", err)
	}
}

func TestIndexRefs(t *testing.T) {
	t.Parallel()
	idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.Put(ctx, 1, mustID("genesis")); err != nil {
		t.Fatalf("Put(1): %v", err)
	}
	if err := idx.SetRef(ctx, "main", mustID("genesis")); err != nil {
		t.Fatalf("SetRef: %v", err)
	}
	id, ok, err := idx.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	if !ok || id != mustID("genesis") {
		t.Errorf("GetRef = %v, %v, want genesis id", id, ok)
	}

	if err := idx.Put(ctx, 2, mustID("second")); err != nil {
		t.Fatalf("Put(2): %v", err)
	}
	if err := idx.SetRef(ctx, "main", mustID("second")); err != nil {
		t.Fatalf("SetRef (update): %v", err)
	}
	id, _, err = idx.GetRef(ctx, "main")
	if err != nil {
		t.Fatalf("GetRef after update: %v", err)
	}
	if id != mustID("second") {
		t.Errorf("ref not updated: got %v", id)
	}
}
