// Package applier implements the C8 command applier: a single serialized
// writer per repository, so that within one node commits against the same
// repository are totally ordered, with idempotency tokens letting retried
// commands short-circuit to their first outcome instead of running twice.
package applier

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/resultcache"
	"github.com/dogmahq/dogma/repository"
)

// idempotencyOperation tags idempotency-token fingerprints so they can
// never collide with any real read/diff fingerprint a caller computes
// against the same Cache's key space, if one were ever shared.
const idempotencyOperation = "applier-token"

// Func is a mutating operation applied to repo. It runs serialized against
// every other Func submitted for the same repository, on a single
// goroutine dedicated to that repository.
type Func func(ctx context.Context, repo *repository.Repository) (any, error)

// Applier is the C8 command applier. Like the watch manager, it is a
// process-wide singleton with an explicit Close; its zero value is not
// usable — build one with New.
type Applier struct {
	tokens *resultcache.Cache

	mu      sync.Mutex
	workers map[uuid.UUID]*repoWorker
}

// New returns an Applier whose idempotency-token cache admits up to
// maxTokenCost cost units, in the same units internal/resultcache.New
// uses. A dedicated, small budget is expected: tokens only hold a command's
// outcome, not repository content.
func New(maxTokenCost int64) (*Applier, error) {
	tokens, err := resultcache.New(maxTokenCost)
	if err != nil {
		return nil, err
	}
	return &Applier{tokens: tokens, workers: make(map[uuid.UUID]*repoWorker)}, nil
}

// Submit runs fn against repo, serialized against every other command
// already queued for repo.ID. If token was previously submitted
// successfully against this repository, fn is not run again — the earlier
// result is returned directly. A token that previously failed is not
// remembered: nothing was applied, so retrying it re-runs fn.
func (a *Applier) Submit(ctx context.Context, repo *repository.Repository, token uuid.UUID, fn Func) (any, error) {
	w := a.workerFor(repo.ID)
	fingerprint := resultcache.Fingerprint(repo.ID, idempotencyOperation, nil, token.String())
	value, err := a.tokens.Get(ctx, repo.ID, fingerprint, false, func(ctx context.Context) (any, int64, error) {
		value, err := w.run(ctx, repo, fn)
		return value, 1, err
	})
	if err == nil {
		// The token's entry is admitted asynchronously; wait for it so a
		// repeat Submit issued right after this one finds it.
		a.tokens.Wait()
	}
	return value, err
}

func (a *Applier) workerFor(id uuid.UUID) *repoWorker {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.workers[id]
	if !ok {
		w = newRepoWorker()
		a.workers[id] = w
	}
	return w
}

// Close shuts down every repository's worker goroutine. Submit calls
// racing Close either complete normally or fail with ErrShuttingDown;
// Close itself does not wait for in-flight commands, which is the caller's
// responsibility via the context it cancels or the result it's blocked on.
func (a *Applier) Close() {
	a.mu.Lock()
	workers := make([]*repoWorker, 0, len(a.workers))
	for _, w := range a.workers {
		workers = append(workers, w)
	}
	a.workers = make(map[uuid.UUID]*repoWorker)
	a.mu.Unlock()

	for _, w := range workers {
		w.shutdown()
	}
}

// repoWorker is the single logical writer for one repository: one
// goroutine drains jobs strictly in submission order.
type repoWorker struct {
	jobs   chan job
	stopCh chan struct{}
}

type job struct {
	ctx  context.Context
	repo *repository.Repository
	fn   Func
	done chan jobResult
}

type jobResult struct {
	value any
	err   error
}

func newRepoWorker() *repoWorker {
	w := &repoWorker{jobs: make(chan job), stopCh: make(chan struct{})}
	go w.loop()
	return w
}

func (w *repoWorker) loop() {
	for {
		select {
		case j := <-w.jobs:
			value, err := j.fn(j.ctx, j.repo)
			j.done <- jobResult{value: value, err: err}
		case <-w.stopCh:
			return
		}
	}
}

// run queues fn on this worker and blocks for its result, failing fast if
// the worker has been shut down or ctx is cancelled before fn ever runs.
func (w *repoWorker) run(ctx context.Context, repo *repository.Repository, fn Func) (any, error) {
	done := make(chan jobResult, 1)
	select {
	case w.jobs <- job{ctx: ctx, repo: repo, fn: fn, done: done}:
	case <-w.stopCh:
		return nil, &dogma.Error{Kind: dogma.ErrShuttingDown, Op: "applier.Submit"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-done:
		return r.value, r.err
	case <-w.stopCh:
		return nil, &dogma.Error{Kind: dogma.ErrShuttingDown, Op: "applier.Submit"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *repoWorker) shutdown() {
	close(w.stopCh)
}
