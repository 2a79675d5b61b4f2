package repository

import (
	"context"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/pkg/pathglob"
)

// History returns the commits between from and to (inclusive of the later
// one, exclusive of the earlier), restricted to commits that touch a path
// matching pattern.
//
// The result is ordered newest-first if from > to, oldest-first otherwise.
// It is capped at maxCommits (0 means unlimited) and, regardless, at the
// engine's own maxHistory ceiling.
func (r *Repository) History(ctx context.Context, from, to dogma.Revision, pattern dogma.PathPattern, maxCommits int) ([]dogma.Commit, error) {
	fromAbs, err := r.Normalize(ctx, from)
	if err != nil {
		return nil, err
	}
	toAbs, err := r.Normalize(ctx, to)
	if err != nil {
		return nil, err
	}
	compiled, err := pattern.Compile()
	if err != nil {
		return nil, err
	}

	descending := fromAbs > toAbs
	lo, hi := fromAbs, toAbs
	if descending {
		lo, hi = toAbs, fromAbs
	}

	limit := maxHistory
	if maxCommits > 0 && maxCommits < limit {
		limit = maxCommits
	}

	var out []dogma.Commit
	// Commits in (lo, hi] are the ones strictly after lo up to and
	// including hi, matching "between from and to" with the earlier
	// endpoint exclusive.
	revisions := make([]dogma.Revision, 0, hi-lo)
	for rv := lo + 1; rv <= hi; rv++ {
		revisions = append(revisions, rv)
	}
	if descending {
		for i, j := 0, len(revisions)-1; i < j; i, j = i+1, j-1 {
			revisions[i], revisions[j] = revisions[j], revisions[i]
		}
	}

	for _, rv := range revisions {
		if len(out) >= limit {
			break
		}
		c, _, err := r.commitAt(ctx, rv)
		if err != nil {
			return nil, err
		}
		touches, changes, err := r.commitTouches(ctx, c, compiled)
		if err != nil {
			return nil, err
		}
		if !touches {
			continue
		}
		out = append(out, toCommit(c, changes))
	}
	return out, nil
}

// commitTouches reports whether commit c changed any path matching
// compiled, reconstructing the change set by diffing c's tree against its
// parent's.
func (r *Repository) commitTouches(ctx context.Context, c *commitObject, compiled *pathglob.Pattern) (bool, []dogma.Change, error) {
	parentTree, err := r.treeAt(ctx, c.Parent)
	if err != nil {
		return false, nil, err
	}
	curTree, err := r.getTree(ctx, c.TreeID)
	if err != nil {
		return false, nil, err
	}

	var changes []dogma.Change
	for p := range parentTree {
		if !compiled.Match(string(p)) {
			continue
		}
		if _, ok := curTree[p]; !ok {
			changes = append(changes, dogma.Change{Path: p, Type: dogma.Remove})
		}
	}
	for p, leaf := range curTree {
		if !compiled.Match(string(p)) {
			continue
		}
		prev, inParent := parentTree[p]
		if inParent && prev.BlobID == leaf.BlobID && prev.Type == leaf.Type {
			continue
		}
		entry, err := r.getEntry(ctx, leaf)
		if err != nil {
			return false, nil, err
		}
		switch leaf.Type {
		case dogma.JSON:
			changes = append(changes, dogma.Change{Path: p, Type: dogma.UpsertJSON, Content: entry.JSONContent})
		case dogma.TEXT:
			changes = append(changes, dogma.Change{Path: p, Type: dogma.UpsertText, Content: entry.TextContent})
		}
	}
	return len(changes) > 0, changes, nil
}
