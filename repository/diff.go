package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dogmahq/dogma"
)

// Diff computes the set of changes that would transform from's tree into
// to's tree, restricted to paths matching pattern.
//
// A path present only at from yields REMOVE; only at to yields UPSERT;
// present at both with differing content yields UPSERT (never a patch:
// diff always produces whole-content changes, matching normalize's own
// notion of "effective" so that applying the result reproduces to's tree
// exactly).
func (r *Repository) Diff(ctx context.Context, from, to dogma.Revision, pattern dogma.PathPattern) (map[dogma.Path]dogma.Change, error) {
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

	fromTree, err := r.treeAt(ctx, fromAbs)
	if err != nil {
		return nil, err
	}
	toTree, err := r.treeAt(ctx, toAbs)
	if err != nil {
		return nil, err
	}

	out := make(map[dogma.Path]dogma.Change)
	for p := range fromTree {
		if !compiled.Match(string(p)) {
			continue
		}
		if _, ok := toTree[p]; !ok {
			out[p] = dogma.Change{Path: p, Type: dogma.Remove}
		}
	}
	for p, toLeaf := range toTree {
		if !compiled.Match(string(p)) {
			continue
		}
		fromLeaf, inFrom := fromTree[p]
		if inFrom && fromLeaf.BlobID == toLeaf.BlobID && fromLeaf.Type == toLeaf.Type {
			continue
		}
		entry, err := r.getEntry(ctx, toLeaf)
		if err != nil {
			return nil, err
		}
		switch toLeaf.Type {
		case dogma.JSON:
			out[p] = dogma.Change{Path: p, Type: dogma.UpsertJSON, Content: entry.JSONContent}
		case dogma.TEXT:
			out[p] = dogma.Change{Path: p, Type: dogma.UpsertText, Content: entry.TextContent}
		}
	}
	return out, nil
}

// DiffFile computes the change, if any, between from and to at query's
// path, scoped by query's JSON-path expressions when present.
func (r *Repository) DiffFile(ctx context.Context, from, to dogma.Revision, query dogma.Query) (*dogma.Change, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	beforeEntry, err := r.Get(ctx, from, query)
	beforeMissing := false
	var derr *dogma.Error
	if err != nil {
		if errors.As(err, &derr) && derr.Kind == dogma.ErrEntryNotFound {
			beforeMissing = true
		} else {
			return nil, err
		}
	}
	afterEntry, err := r.Get(ctx, to, query)
	afterMissing := false
	if err != nil {
		if errors.As(err, &derr) && derr.Kind == dogma.ErrEntryNotFound {
			afterMissing = true
		} else {
			return nil, err
		}
	}

	switch {
	case beforeMissing && afterMissing:
		return nil, nil
	case beforeMissing:
		return changeFor(query.Path, afterEntry), nil
	case afterMissing:
		return &dogma.Change{Path: query.Path, Type: dogma.Remove}, nil
	}

	if beforeEntry.Type == afterEntry.Type && jsonOrTextEqual(beforeEntry, afterEntry) {
		return nil, nil
	}
	return changeFor(query.Path, afterEntry), nil
}

func changeFor(path dogma.Path, e dogma.Entry) *dogma.Change {
	switch e.Type {
	case dogma.JSON:
		return &dogma.Change{Path: path, Type: dogma.UpsertJSON, Content: e.JSONContent}
	default:
		return &dogma.Change{Path: path, Type: dogma.UpsertText, Content: e.TextContent}
	}
}

func jsonOrTextEqual(a, b dogma.Entry) bool {
	if a.Type == dogma.JSON {
		ab, aerr := json.Marshal(a.JSONContent)
		bb, berr := json.Marshal(b.JSONContent)
		if aerr != nil || berr != nil {
			return false
		}
		return string(ab) == string(bb)
	}
	return a.TextContent == b.TextContent
}
