package watch

import (
	"context"
	"sync"
	"time"

	"github.com/dogmahq/dogma"
)

// CheckFunc decides whether a subscription's condition holds as of the
// repository's current state. It is supplied by the caller (the engine
// layer, which knows what a "repository watch" or "file/query watch"
// predicate actually means); this package only knows when to call it and
// how to deliver the result exactly once.
//
// matched reports whether the watch should complete now; revision is the
// revision to report back to the caller when it does. CheckFunc may
// perform arbitrary I/O (it is always invoked off the notifier's own
// goroutine) and must be safe to call concurrently with other
// subscriptions' CheckFuncs for the same repository.
type CheckFunc func(ctx context.Context) (matched bool, revision dogma.Revision, err error)

// Result is what a subscription resolves to: either a matching revision, a
// timeout (TimedOut, carrying the subscription's original lastKnownRevision
// unchanged), or an error (most commonly ErrShuttingDown).
type Result struct {
	Revision dogma.Revision
	TimedOut bool
	Err      error
}

// subscription is one live watch. It is completed exactly once, by
// whichever of {a matching wakeup, a timeout, caller cancellation,
// notifier shutdown} happens first — the same "two cancellation sources,
// fire exactly once" shape as pkg/ctxlock's watcher type, adapted here to
// guard delivery instead of lock release.
type subscription struct {
	ctx               context.Context
	lastKnownRevision dogma.Revision
	check             CheckFunc

	resultCh chan Result
	once     sync.Once
	done     chan struct{}
}

func newSubscription(ctx context.Context, lastKnownRevision dogma.Revision, check CheckFunc) *subscription {
	return &subscription{
		ctx:               ctx,
		lastKnownRevision: lastKnownRevision,
		check:             check,
		resultCh:          make(chan Result, 1),
		done:              make(chan struct{}),
	}
}

// complete delivers r exactly once; later calls are no-ops.
func (s *subscription) complete(r Result) {
	s.once.Do(func() {
		s.resultCh <- r
		close(s.done)
	})
}

func (s *subscription) completeTimeout() {
	s.complete(Result{Revision: s.lastKnownRevision, TimedOut: true})
}

func (s *subscription) completeErr(err error) {
	s.complete(Result{Revision: s.lastKnownRevision, Err: err})
}

// armTimeout schedules a timeout completion. timeout <= 0 means no timeout
// (the subscription waits until matched, cancelled, or the repository
// closes). The returned stop func should be called once the subscription
// is otherwise completed, to release the timer.
func (s *subscription) armTimeout(timeout time.Duration) (stop func()) {
	if timeout <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(timeout, s.completeTimeout)
	return func() { timer.Stop() }
}
