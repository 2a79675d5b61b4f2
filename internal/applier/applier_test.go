package applier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/repository"
)

func stubRepo() *repository.Repository {
	return &repository.Repository{ID: uuid.New()}
}

func newApplier(t *testing.T) *Applier {
	t.Helper()
	a, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestSubmitRunsFunc(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repo := stubRepo()

	got, err := a.Submit(context.Background(), repo, uuid.New(), func(_ context.Context, r *repository.Repository) (any, error) {
		return r.ID, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != repo.ID {
		t.Errorf("want %v, got %v", repo.ID, got)
	}
}

func TestSubmitSameTokenShortCircuits(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repo := stubRepo()
	token := uuid.New()

	var calls atomic.Int32
	fn := func(_ context.Context, _ *repository.Repository) (any, error) {
		calls.Add(1)
		return "ok", nil
	}

	for i := 0; i < 5; i++ {
		got, err := a.Submit(context.Background(), repo, token, fn)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if got != "ok" {
			t.Errorf("Submit %d: want %q, got %v", i, "ok", got)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("want fn run once across repeated tokens, ran %d times", n)
	}
}

func TestSubmitDistinctTokensBothRun(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repo := stubRepo()

	var calls atomic.Int32
	fn := func(_ context.Context, _ *repository.Repository) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	if _, err := a.Submit(context.Background(), repo, uuid.New(), fn); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	if _, err := a.Submit(context.Background(), repo, uuid.New(), fn); err != nil {
		t.Fatalf("Submit 2: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("want fn run for each distinct token, ran %d times", n)
	}
}

func TestSubmitFailedTokenIsRetried(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repo := stubRepo()
	token := uuid.New()

	var calls atomic.Int32
	wantErr := errors.New("transient")
	fn := func(_ context.Context, _ *repository.Repository) (any, error) {
		n := calls.Add(1)
		if n == 1 {
			return nil, wantErr
		}
		return "ok", nil
	}

	_, err := a.Submit(context.Background(), repo, token, fn)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want first Submit to fail with %v, got %v", wantErr, err)
	}
	got, err := a.Submit(context.Background(), repo, token, fn)
	if err != nil {
		t.Fatalf("retried Submit: %v", err)
	}
	if got != "ok" {
		t.Errorf("want %q, got %v", "ok", got)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("want fn to re-run after a failed attempt, ran %d times", n)
	}
}

func TestSubmitSerializesWithinRepository(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repo := stubRepo()

	var active atomic.Int32
	var overlapped atomic.Bool
	fn := func(_ context.Context, _ *repository.Repository) (any, error) {
		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Submit(context.Background(), repo, uuid.New(), fn); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Error("commands for the same repository ran concurrently, want serialized")
	}
}

func TestSubmitAcrossRepositoriesRunsConcurrently(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repoA, repoB := stubRepo(), stubRepo()

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	fn := func(_ context.Context, _ *repository.Repository) (any, error) {
		entered <- struct{}{}
		<-release
		return nil, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Submit(context.Background(), repoA, uuid.New(), fn)
	}()
	go func() {
		defer wg.Done()
		a.Submit(context.Background(), repoB, uuid.New(), fn)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for both repositories' commands to start concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestSubmitCancelledContextFailsFast(t *testing.T) {
	t.Parallel()
	a := newApplier(t)
	repo := stubRepo()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := make(chan struct{})
	// Occupy the repository's worker so the cancelled Submit has to wait
	// in the queue rather than running immediately.
	go a.Submit(context.Background(), repo, uuid.New(), func(_ context.Context, _ *repository.Repository) (any, error) {
		<-blocked
		return nil, nil
	})
	time.Sleep(5 * time.Millisecond)

	_, err := a.Submit(ctx, repo, uuid.New(), func(_ context.Context, _ *repository.Repository) (any, error) {
		return nil, nil
	})
	close(blocked)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestWorkerRejectsAfterShutdown(t *testing.T) {
	t.Parallel()
	w := newRepoWorker()
	w.shutdown()

	_, err := w.run(context.Background(), stubRepo(), func(_ context.Context, _ *repository.Repository) (any, error) {
		return nil, nil
	})
	var derr *dogma.Error
	if !errors.As(err, &derr) || derr.Kind != dogma.ErrShuttingDown {
		t.Fatalf("want ErrShuttingDown, got %v", err)
	}
}
