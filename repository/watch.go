package repository

import (
	"context"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/watch"
)

// WatchRepository builds the predicate for a repository watch: it fires the
// first time, strictly after lastKnownRevision, that a commit's effective
// change set touches a path matching pattern.
//
// Each call to the returned CheckFunc re-diffs lastKnownRevision against
// the current head rather than tracking incremental state, so it is safe
// to call repeatedly (including the immediate re-check right after
// subscription) and correct regardless of how many commits land between
// calls: it always reports the latest matching head, never an
// intermediate one.
func (r *Repository) WatchRepository(lastKnownRevision dogma.Revision, pattern dogma.PathPattern) watch.CheckFunc {
	return func(ctx context.Context) (bool, dogma.Revision, error) {
		head, err := r.Head(ctx)
		if err != nil {
			return false, 0, err
		}
		if head <= lastKnownRevision {
			return false, 0, nil
		}
		changes, err := r.Diff(ctx, lastKnownRevision, head, pattern)
		if err != nil {
			return false, 0, err
		}
		if len(changes) == 0 {
			return false, 0, nil
		}
		return true, head, nil
	}
}

// WatchFile builds the predicate for a file/query watch: it fires the
// first time, strictly after lastKnownRevision, that query's result at the
// current head differs from its result at lastKnownRevision.
func (r *Repository) WatchFile(lastKnownRevision dogma.Revision, query dogma.Query) watch.CheckFunc {
	return func(ctx context.Context) (bool, dogma.Revision, error) {
		head, err := r.Head(ctx)
		if err != nil {
			return false, 0, err
		}
		if head <= lastKnownRevision {
			return false, 0, nil
		}
		change, err := r.DiffFile(ctx, lastKnownRevision, head, query)
		if err != nil {
			return false, 0, err
		}
		if change == nil {
			return false, 0, nil
		}
		return true, head, nil
	}
}
