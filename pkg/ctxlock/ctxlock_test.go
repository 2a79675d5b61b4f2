package ctxlock

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dogmahq/dogma/internal/dogmatest"
)

func basicSetup(t testing.TB) (context.Context, *Locker) {
	t.Helper()
	dsn := dogmatest.NeedDB(t)
	ctx := context.Background()

	db, err := dogmatest.NewDB(ctx, t, dsn, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close(ctx, t) })

	pool, err := pgxpool.NewWithConfig(ctx, db.Config())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	l, err := New(ctx, pool)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close(ctx) })

	return ctx, l
}

func TestUncontested(t *testing.T) {
	ctx, l := basicSetup(t)
	const (
		w  = 4
		ct = 100
	)

	ids := make([]string, w*ct)
	for i := range ids {
		ids[i] = uuid.New().String()
	}
	wi := make([][]string, w)
	for i := range wi {
		off := i * ct
		wi[i] = ids[off : off+ct]
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(len(wi))
	for i := range wi {
		go func(i int) {
			defer wg.Done()
			<-start
			t.Logf("worker %d: start", i)
			for _, id := range wi[i] {
				lc, done := l.TryLock(ctx, id)
				if err := lc.Err(); err != nil {
					t.Error(err)
				}
				done()
			}
			t.Logf("worker %d: locked %d keys", i, len(wi[i]))
		}(i)
	}

	close(start)
	wg.Wait()
}

func TestContested(t *testing.T) {
	ctx, l := basicSetup(t)
	const (
		w  = 4
		ct = 100
	)

	ids := make([]string, ct)
	for i := range ids {
		ids[i] = strconv.Itoa(i) + "-" + uuid.New().String()
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(w)
	for i := 0; i < w; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			t.Logf("worker %d: start", i)
			for _, id := range ids {
				lc, done := l.Lock(ctx, id)
				if err := lc.Err(); err != nil {
					t.Errorf("worker %d: key %q: %v", i, id, err)
				}
				done()
			}
			t.Logf("worker %d: locked %d keys", i, len(ids))
		}(i)
	}

	close(start)
	wg.Wait()
}

func TestLocal(t *testing.T) {
	var l Local
	ctx := context.Background()

	c1, done1 := l.Lock(ctx, "repo-1")
	if err := c1.Err(); err != nil {
		t.Fatalf("unexpected lock failure: %v", err)
	}

	c2, done2 := l.TryLock(ctx, "repo-1")
	if err := c2.Err(); err == nil {
		t.Fatal("expected contested TryLock to fail")
	}
	done2()

	done1()

	c3, done3 := l.TryLock(ctx, "repo-1")
	if err := c3.Err(); err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	done3()
}
