package repository

import (
	"context"
	"time"

	"github.com/dogmahq/dogma"
)

// maxChangesPerPush bounds a single push's change-set size.
const maxChangesPerPush = 10000

// stateFn is one phase of the push pipeline. It returns the next phase, or
// nil once the pipeline has either succeeded or failed terminally. This is
// the same self-referential shape the teacher's indexer controller uses
// for its own multi-phase pipeline.
type stateFn func(ctx context.Context, s *pushState) stateFn

// pushState carries everything a push accumulates as it moves through the
// five phases.
type pushState struct {
	repo *Repository

	requestedBase dogma.Revision
	author        dogma.Author
	summary       string
	detail        string
	markup        dogma.Markup
	changes       []dogma.Change

	base     dogma.Revision // resolved, absolute
	head     dogma.Revision // absolute head at the time of the attempt
	baseTree tree
	headTree tree
	working  tree

	// effective holds every path touched by the push whose resulting
	// content actually differs from what's at head — the set phase 4
	// normalized down to and phase 5 checks for conflicts.
	effective map[dogma.Path]struct{}

	result *dogma.Commit
	err    error
}

func (s *pushState) fail(kind dogma.ErrorKind, op, msg string) stateFn {
	s.err = &dogma.Error{Kind: kind, Op: op, Message: msg}
	return nil
}

func (s *pushState) failErr(err error) stateFn {
	s.err = err
	return nil
}

// Push runs the five-phase push pipeline, returning the new commit on
// success.
func (r *Repository) Push(ctx context.Context, base dogma.Revision, author dogma.Author, summary, detail string, markup dogma.Markup, changes []dogma.Change) (dogma.Commit, error) {
	s := &pushState{
		repo:          r,
		requestedBase: base,
		author:        author,
		summary:       summary,
		detail:        detail,
		markup:        markup,
		changes:       changes,
	}
	for f := validatePush; f != nil; {
		f = f(ctx, s)
	}
	if s.err != nil {
		return dogma.Commit{}, s.err
	}
	return *s.result, nil
}

// validatePush is phase 1: every change must be individually well-formed,
// and the batch must be within size limits.
func validatePush(ctx context.Context, s *pushState) stateFn {
	if len(s.changes) == 0 {
		return s.fail(dogma.ErrRedundantChange, "Push", "no changes")
	}
	if len(s.changes) > maxChangesPerPush {
		return s.fail(dogma.ErrInvalidPush, "Push", "too many changes in one push")
	}
	for _, ch := range s.changes {
		if err := ch.Validate(); err != nil {
			return s.failErr(err)
		}
	}
	return resolveBase
}

// resolveBase is phase 2: normalize base against the repository's current
// head, recording both for later phases.
func resolveBase(ctx context.Context, s *pushState) stateFn {
	head, err := s.repo.Head(ctx)
	if err != nil {
		return s.failErr(err)
	}
	s.head = head

	base, err := s.requestedBase.Normalize(head)
	if err != nil {
		// A never-yet-committed repository has head 0 and base HEAD (0)
		// normalizes to that same 0, which Normalize would otherwise
		// reject as out of [INIT, head]; genesis pushes are the one case
		// where base == 0 is legal.
		if head == 0 && (s.requestedBase == dogma.Head || s.requestedBase == 0) {
			s.base = 0
			return apply
		}
		return s.failErr(err)
	}
	s.base = base
	return apply
}

// apply is phase 3: build a working tree from base's tree by applying
// every change in order. Multiple changes to the same path: last writer
// wins, except that two JSON patches targeting the same path are merged
// (both applied in sequence).
func apply(ctx context.Context, s *pushState) stateFn {
	baseTree, err := s.repo.treeAt(ctx, s.base)
	if err != nil {
		return s.failErr(err)
	}
	s.baseTree = baseTree
	s.working = baseTree.clone()

	for _, ch := range s.changes {
		if err := applyChange(ctx, s.repo, s.working, ch); err != nil {
			return s.failErr(err)
		}
	}
	return normalize
}

// applyChange mutates working in place to reflect ch.
func applyChange(ctx context.Context, r *Repository, working tree, ch dogma.Change) error {
	switch ch.Type {
	case dogma.UpsertJSON:
		id, err := r.putBlob(ctx, dogma.JSON, ch.Content)
		if err != nil {
			return err
		}
		working[ch.Path] = treeLeaf{Path: ch.Path, Type: dogma.JSON, BlobID: id}
		return nil
	case dogma.UpsertText:
		id, err := r.putBlob(ctx, dogma.TEXT, ch.Content)
		if err != nil {
			return err
		}
		working[ch.Path] = treeLeaf{Path: ch.Path, Type: dogma.TEXT, BlobID: id}
		return nil
	case dogma.Remove:
		if _, ok := working[ch.Path]; !ok {
			return &dogma.Error{Kind: dogma.ErrEntryNotFound, Op: "Push", Message: string(ch.Path)}
		}
		delete(working, ch.Path)
		return nil
	case dogma.Rename:
		leaf, ok := working[ch.Path]
		if !ok {
			return &dogma.Error{Kind: dogma.ErrEntryNotFound, Op: "Push", Message: string(ch.Path)}
		}
		dest := ch.Destination()
		delete(working, ch.Path)
		leaf.Path = dest
		working[dest] = leaf
		return nil
	case dogma.ApplyJSONPatch:
		leaf, ok := working[ch.Path]
		if !ok || leaf.Type != dogma.JSON {
			return &dogma.Error{Kind: dogma.ErrEntryNotFound, Op: "Push", Message: string(ch.Path)}
		}
		entry, err := r.getEntry(ctx, leaf)
		if err != nil {
			return err
		}
		patched, err := applyJSONPatch(entry.JSONContent, ch.Content.(string))
		if err != nil {
			return err
		}
		id, err := r.putBlob(ctx, dogma.JSON, patched)
		if err != nil {
			return err
		}
		working[ch.Path] = treeLeaf{Path: ch.Path, Type: dogma.JSON, BlobID: id}
		return nil
	case dogma.ApplyTextPatch:
		leaf, ok := working[ch.Path]
		if !ok || leaf.Type != dogma.TEXT {
			return &dogma.Error{Kind: dogma.ErrEntryNotFound, Op: "Push", Message: string(ch.Path)}
		}
		entry, err := r.getEntry(ctx, leaf)
		if err != nil {
			return err
		}
		patched, err := applyUnifiedDiff(entry.TextContent, ch.Content.(string))
		if err != nil {
			return err
		}
		id, err := r.putBlob(ctx, dogma.TEXT, patched)
		if err != nil {
			return err
		}
		working[ch.Path] = treeLeaf{Path: ch.Path, Type: dogma.TEXT, BlobID: id}
		return nil
	default:
		return &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "Push", Message: "unknown change type: " + string(ch.Type)}
	}
}

// normalize is phase 4: drop the effects already present at head, so
// idempotent retries succeed without error instead of conflicting.
func normalize(ctx context.Context, s *pushState) stateFn {
	headTree, err := s.repo.treeAt(ctx, s.head)
	if err != nil {
		return s.failErr(err)
	}
	s.headTree = headTree

	touched := make(map[dogma.Path]struct{}, len(s.changes))
	for _, ch := range s.changes {
		touched[ch.Path] = struct{}{}
		if ch.Type == dogma.Rename {
			touched[ch.Destination()] = struct{}{}
		}
	}

	effective := make(map[dogma.Path]struct{}, len(touched))
	for path := range touched {
		workingLeaf, inWorking := s.working[path]
		headLeaf, inHead := s.headTree[path]
		switch {
		case inWorking && inHead && workingLeaf.BlobID == headLeaf.BlobID && workingLeaf.Type == headLeaf.Type:
			// No effective change at this path.
		case !inWorking && !inHead:
			// Removed a path that doesn't exist at head either: no-op.
		default:
			effective[path] = struct{}{}
		}
	}
	if len(effective) == 0 {
		return s.fail(dogma.ErrRedundantChange, "Push", "push has no effect at head")
	}
	s.effective = effective
	return detectConflicts
}

// detectConflicts is phase 5: for every path surviving normalization, if
// the content at head differs from the content at base, the push is
// racing a concurrent change to that same path and fails change-conflict,
// whether the push's own change is a patch or a plain upsert/remove/
// rename. A patch only ever looked safe to special-case here because it
// happens to fail its own apply step (ErrEntryNotFound) when its target
// was removed between base and head; it is not safe when the target was
// merely overwritten with different content, which an upsert can do just
// as easily.
func detectConflicts(ctx context.Context, s *pushState) stateFn {
	if s.base == s.head {
		return publish
	}
	for path := range s.effective {
		baseLeaf, inBase := s.baseTree[path]
		headLeaf, inHead := s.headTree[path]
		if inBase != inHead || baseLeaf.BlobID != headLeaf.BlobID || baseLeaf.Type != headLeaf.Type {
			return s.fail(dogma.ErrChangeConflict, "Push", "content changed between base and head: "+string(path))
		}
	}
	return publish
}

// publish is the final step: insert the new tree and commit objects,
// advance the revision index by exactly one, then notify watchers and
// invalidate cached results.
func publish(ctx context.Context, s *pushState) stateFn {
	treeID, err := s.repo.putTree(ctx, s.working)
	if err != nil {
		return s.failErr(err)
	}

	next := s.head + 1
	obj := commitObject{
		Revision:   next,
		Parent:     s.head,
		Author:     s.author,
		WhenMillis: time.Now().UnixMilli(),
		Summary:    s.summary,
		Detail:     s.detail,
		Markup:     s.markup,
		TreeID:     treeID,
	}
	commitID, err := s.repo.putCommit(ctx, obj)
	if err != nil {
		return s.failErr(err)
	}

	if err := s.repo.Index.Put(ctx, int64(next), commitID); err != nil {
		return s.failErr(&dogma.Error{Kind: dogma.ErrChangeConflict, Op: "Push", Message: "head advanced concurrently", Inner: err})
	}

	result := toCommit(&obj, s.changes)
	s.result = &result

	if s.repo.Notifier != nil {
		s.repo.Notifier.Publish(s.repo.ID, next)
	}
	if s.repo.Invalidator != nil {
		s.repo.Invalidator.InvalidateRepository(s.repo.ID)
	}
	return nil
}
