package repository

import (
	"context"

	"github.com/dogmahq/dogma"
)

// PreviewDiff applies changes onto base without committing them, returning
// the normalized change set a Push with the same arguments would actually
// record. It runs the same apply/normalize phases the push pipeline uses,
// stopping short of detecting conflicts or publishing: callers use this to
// show what a push would do before committing to it, and the push pipeline
// itself could be expressed in terms of this plus detectConflicts/publish,
// though it isn't (the two pipelines trace slightly different state and
// duplicating the small amount of plumbing reads more clearly).
func (r *Repository) PreviewDiff(ctx context.Context, base dogma.Revision, changes []dogma.Change) ([]dogma.Change, error) {
	s := &pushState{
		repo:          r,
		requestedBase: base,
		changes:       changes,
	}
	for _, ch := range changes {
		if err := ch.Validate(); err != nil {
			return nil, err
		}
	}

	head, err := r.Head(ctx)
	if err != nil {
		return nil, err
	}
	s.head = head

	resolvedBase, err := base.Normalize(head)
	if err != nil {
		if head == 0 && (base == dogma.Head || base == 0) {
			resolvedBase = 0
		} else {
			return nil, err
		}
	}
	s.base = resolvedBase

	baseTree, err := r.treeAt(ctx, s.base)
	if err != nil {
		return nil, err
	}
	s.baseTree = baseTree
	s.working = baseTree.clone()
	for _, ch := range changes {
		if err := applyChange(ctx, r, s.working, ch); err != nil {
			return nil, err
		}
	}

	headTree, err := r.treeAt(ctx, s.head)
	if err != nil {
		return nil, err
	}

	touched := make(map[dogma.Path]struct{}, len(changes))
	for _, ch := range changes {
		touched[ch.Path] = struct{}{}
		if ch.Type == dogma.Rename {
			touched[ch.Destination()] = struct{}{}
		}
	}

	out := make([]dogma.Change, 0, len(touched))
	for path := range touched {
		workingLeaf, inWorking := s.working[path]
		headLeaf, inHead := headTree[path]
		if inWorking && inHead && workingLeaf.BlobID == headLeaf.BlobID && workingLeaf.Type == headLeaf.Type {
			continue
		}
		if !inWorking && !inHead {
			continue
		}
		if !inWorking {
			out = append(out, dogma.Change{Path: path, Type: dogma.Remove})
			continue
		}
		entry, err := r.getEntry(ctx, workingLeaf)
		if err != nil {
			return nil, err
		}
		switch workingLeaf.Type {
		case dogma.JSON:
			out = append(out, dogma.Change{Path: path, Type: dogma.UpsertJSON, Content: entry.JSONContent})
		case dogma.TEXT:
			out = append(out, dogma.Change{Path: path, Type: dogma.UpsertText, Content: entry.TextContent})
		}
	}
	if len(out) == 0 {
		return nil, &dogma.Error{Kind: dogma.ErrRedundantChange, Op: "Repository.PreviewDiff", Message: "push has no effect at head"}
	}
	return out, nil
}
