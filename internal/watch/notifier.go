// Package watch implements the long-poll watch manager: per-repository
// notifier goroutines that wake live subscriptions in commit order and
// hand predicate/query evaluation off to a bounded worker pool, so no
// CheckFunc runs on the notifier goroutine itself. The notifier does wait
// for a wake cycle's evaluations to finish before starting the next one.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dogmahq/dogma"
)

// evalConcurrency bounds how many CheckFuncs run at once per wake cycle,
// across all of a repository's live subscriptions.
const evalConcurrency = 16

// Manager is the C5 watch manager. Its zero value is not usable; build one
// with NewManager. A Manager satisfies repository.Notifier.
type Manager struct {
	mu    sync.Mutex
	repos map[uuid.UUID]*repoNotifier
}

// NewManager returns an empty watch manager.
func NewManager() *Manager {
	return &Manager{repos: make(map[uuid.UUID]*repoNotifier)}
}

// Publish implements repository.Notifier: it wakes repositoryID's notifier
// goroutine, if one exists (lazily created the first time anyone
// subscribes — a repository nobody is watching has nothing to wake).
func (m *Manager) Publish(repositoryID uuid.UUID, _ dogma.Revision) {
	m.mu.Lock()
	rn, ok := m.repos[repositoryID]
	m.mu.Unlock()
	if ok {
		rn.wake()
	}
}

// Subscribe registers a new watch against repositoryID. check is called
// (possibly several times, always off the notifier's goroutine) each time
// the repository's head advances, until it reports a match, the
// subscription times out, ctx is cancelled, or the Manager is closed.
//
// The returned channel carries exactly one Result and is never closed;
// cancel releases resources and must always be called.
func (m *Manager) Subscribe(ctx context.Context, repositoryID uuid.UUID, lastKnownRevision dogma.Revision, check CheckFunc, timeout time.Duration) (<-chan Result, context.CancelFunc) {
	m.mu.Lock()
	rn, ok := m.repos[repositoryID]
	if !ok {
		rn = newRepoNotifier(repositoryID)
		m.repos[repositoryID] = rn
		go rn.run()
	}
	m.mu.Unlock()
	return rn.subscribe(ctx, lastKnownRevision, check, timeout)
}

// Close shuts down every repository's notifier goroutine, completing all
// live subscriptions with ErrShuttingDown.
func (m *Manager) Close() {
	m.mu.Lock()
	repos := make([]*repoNotifier, 0, len(m.repos))
	for _, rn := range m.repos {
		repos = append(repos, rn)
	}
	m.repos = make(map[uuid.UUID]*repoNotifier)
	m.mu.Unlock()

	for _, rn := range repos {
		rn.shutdown()
	}
}

// repoNotifier is the single logical notifier for one repository: one
// goroutine processes wakeups in order, evaluating every live subscription
// each time, off the notifier thread, via a bounded worker pool.
type repoNotifier struct {
	id uuid.UUID

	// wakeCh is a capacity-1 coalescing signal: a burst of Publish calls
	// between wake cycles collapses to a single re-check, which is
	// correct because CheckFuncs always test current state, not a
	// specific revision value carried through the channel.
	wakeCh chan struct{}
	stopCh chan struct{}

	mu   sync.Mutex
	subs map[*subscription]func() // subscription -> timer-stop func
}

func newRepoNotifier(id uuid.UUID) *repoNotifier {
	return &repoNotifier{
		id:     id,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		subs:   make(map[*subscription]func()),
	}
}

func (rn *repoNotifier) wake() {
	select {
	case rn.wakeCh <- struct{}{}:
	default:
	}
}

func (rn *repoNotifier) subscribe(ctx context.Context, lastKnownRevision dogma.Revision, check CheckFunc, timeout time.Duration) (<-chan Result, context.CancelFunc) {
	// sctx is what every CheckFunc call for this subscription runs under:
	// cancelling it interrupts an in-flight evaluation cooperatively,
	// matching "outstanding query evaluations are interrupted" on
	// cancellation or shutdown.
	sctx, cancelSctx := context.WithCancel(ctx)
	s := newSubscription(sctx, lastKnownRevision, check)
	stopTimer := s.armTimeout(timeout)

	rn.mu.Lock()
	select {
	case <-rn.stopCh:
		rn.mu.Unlock()
		stopTimer()
		cancelSctx()
		s.completeErr(&dogma.Error{Kind: dogma.ErrShuttingDown, Op: "watch.Subscribe"})
		return s.resultCh, func() {}
	default:
	}
	rn.subs[s] = stopTimer
	rn.mu.Unlock()

	// Registration races a concurrent commit: the commit's Publish may
	// fire (and even finish waking every subscriber registered at that
	// instant) before this subscription's insert above is visible to
	// evaluateAll's snapshot. Re-checking once, right here, against
	// whatever is true now closes that window regardless of the exact
	// interleaving — either this catches a commit the notifier's wake
	// cycle missed, or it finds nothing new and the subscription proceeds
	// to wait for the next one.
	go func() {
		matched, revision, err := check(sctx)
		switch {
		case err != nil:
			s.completeErr(err)
		case matched:
			s.complete(Result{Revision: revision})
		}
	}()

	cancelled := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.completeErr(ctx.Err())
		case <-s.done:
		case <-cancelled:
		}
		cancelSctx()
		rn.remove(s)
	}()

	cancel := func() {
		select {
		case <-cancelled:
		default:
			close(cancelled)
		}
	}
	return s.resultCh, cancel
}

func (rn *repoNotifier) remove(s *subscription) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if stop, ok := rn.subs[s]; ok {
		stop()
		delete(rn.subs, s)
	}
}

// run is the notifier's single goroutine: it processes wakeups strictly in
// order, evaluating the whole live subscriber set on each one.
func (rn *repoNotifier) run() {
	for {
		select {
		case <-rn.wakeCh:
			rn.evaluateAll()
		case <-rn.stopCh:
			return
		}
	}
}

// evaluateAll copies out the live subscriber set under lock (so predicate
// evaluation never runs while holding it, matching "notification releases
// the lock before executing query evaluation tasks"), then fans the
// CheckFunc calls out to a bounded pool.
func (rn *repoNotifier) evaluateAll() {
	rn.mu.Lock()
	live := make([]*subscription, 0, len(rn.subs))
	for s := range rn.subs {
		live = append(live, s)
	}
	rn.mu.Unlock()

	if len(live) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(evalConcurrency)
	for _, s := range live {
		s := s
		g.Go(func() error {
			matched, revision, err := s.check(s.ctx)
			switch {
			case err != nil:
				s.completeErr(err)
			case matched:
				s.complete(Result{Revision: revision})
			}
			return nil
		})
	}
	g.Wait()
}

// shutdown stops the notifier goroutine and completes every live
// subscription with ErrShuttingDown.
func (rn *repoNotifier) shutdown() {
	close(rn.stopCh)

	rn.mu.Lock()
	live := make([]*subscription, 0, len(rn.subs))
	for s := range rn.subs {
		live = append(live, s)
	}
	rn.subs = make(map[*subscription]func())
	rn.mu.Unlock()

	for _, s := range live {
		s.completeErr(&dogma.Error{Kind: dogma.ErrShuttingDown, Op: "watch.Manager.Close"})
	}
}
