package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/objectstore"
)

// treeLeaf is one file's record within a tree object. Directories are not
// stored explicitly: a path is a directory iff some leaf's path has it as
// a prefix.
type treeLeaf struct {
	Path   dogma.Path      `json:"path"`
	Type   dogma.EntryType `json:"type"`
	BlobID objectstore.ID  `json:"blobId"`
}

// tree is the in-memory form of a commit's file tree: every JSON/TEXT leaf
// keyed by path, sorted on encode for a stable content ID.
type tree map[dogma.Path]treeLeaf

func (t tree) clone() tree {
	out := make(tree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// encode produces the canonical bytes for t: leaves sorted by path, so two
// trees with the same contents always hash to the same tree object ID.
func (t tree) encode() ([]byte, error) {
	leaves := make([]treeLeaf, 0, len(t))
	for _, leaf := range t {
		leaves = append(leaves, leaf)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return json.Marshal(leaves)
}

func decodeTree(b []byte) (tree, error) {
	var leaves []treeLeaf
	if err := json.Unmarshal(b, &leaves); err != nil {
		return nil, err
	}
	t := make(tree, len(leaves))
	for _, leaf := range leaves {
		t[leaf.Path] = leaf
	}
	return t, nil
}

// getTree fetches and decodes the tree object stored under id.
func (r *Repository) getTree(ctx context.Context, id objectstore.ID) (tree, error) {
	_, b, ok, err := r.Objects.Get(ctx, id, objectstore.Tree)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getTree", Inner: err}
	}
	if !ok {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getTree", Message: "missing tree object " + id.String()}
	}
	return decodeTree(b)
}

// putTree stores t and returns its content ID.
func (r *Repository) putTree(ctx context.Context, t tree) (objectstore.ID, error) {
	b, err := t.encode()
	if err != nil {
		return objectstore.ID{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.putTree", Inner: err}
	}
	id, err := r.Objects.Insert(ctx, objectstore.Tree, b)
	if err != nil {
		return objectstore.ID{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.putTree", Inner: err}
	}
	return id, nil
}

// getEntry fetches and decodes the blob stored under leaf, returning an
// Entry with Content populated according to leaf.Type.
func (r *Repository) getEntry(ctx context.Context, leaf treeLeaf) (dogma.Entry, error) {
	_, b, ok, err := r.Objects.Get(ctx, leaf.BlobID, objectstore.Blob)
	if err != nil {
		return dogma.Entry{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getEntry", Inner: err}
	}
	if !ok {
		return dogma.Entry{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getEntry", Message: "missing blob " + leaf.BlobID.String()}
	}
	e := dogma.Entry{Path: leaf.Path, Type: leaf.Type}
	switch leaf.Type {
	case dogma.JSON:
		if err := json.Unmarshal(b, &e.JSONContent); err != nil {
			return dogma.Entry{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getEntry", Inner: err}
		}
	case dogma.TEXT:
		e.TextContent = string(b)
	}
	return e, nil
}

// putBlob canonically encodes content according to typ and stores it.
func (r *Repository) putBlob(ctx context.Context, typ dogma.EntryType, content any) (objectstore.ID, error) {
	var b []byte
	var err error
	switch typ {
	case dogma.JSON:
		b, err = json.Marshal(content)
	case dogma.TEXT:
		b = []byte(content.(string))
	}
	if err != nil {
		return objectstore.ID{}, &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "Repository.putBlob", Inner: err}
	}
	id, err := r.Objects.Insert(ctx, objectstore.Blob, b)
	if err != nil {
		return objectstore.ID{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.putBlob", Inner: err}
	}
	return id, nil
}

// entryTypeForPath infers the entry type a path's extension implies.
// ".json" and ".json5" paths hold JSON; everything else holds TEXT.
func entryTypeForPath(p dogma.Path) dogma.EntryType {
	s := string(p)
	if strings.HasSuffix(s, ".json") || strings.HasSuffix(s, ".json5") {
		return dogma.JSON
	}
	return dogma.TEXT
}
