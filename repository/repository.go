// Package repository implements the C4 repository engine: reads, diffs,
// history, preview-diff, and the five-phase push pipeline that turns a
// client's intended changes into a new immutable commit.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/objectstore"
	"github.com/dogmahq/dogma/internal/revindex"
)

// maxHistory bounds History regardless of what a caller asks for.
const maxHistory = 10000

// Notifier is the subset of the watch manager a Repository needs: telling
// it that a new revision has been published. It is satisfied by
// *internal/watch.Manager.
type Notifier interface {
	Publish(repositoryID uuid.UUID, revision dogma.Revision)
}

// Invalidator is the subset of the result cache a Repository needs:
// dropping entries that a just-published commit made stale. It is
// satisfied by *internal/resultcache.Cache.
type Invalidator interface {
	InvalidateRepository(repositoryID uuid.UUID)
}

// Repository is a single version-controlled file tree: a chain of commits
// stored content-addressably in Objects, indexed densely by Index.
type Repository struct {
	ID          uuid.UUID
	ProjectName string
	RepoName    string

	Objects objectstore.Store
	Index   *revindex.Index

	Notifier    Notifier
	Invalidator Invalidator
}

// New returns a Repository backed by objects and index.
func New(id uuid.UUID, projectName, repoName string, objects objectstore.Store, index *revindex.Index) *Repository {
	return &Repository{
		ID:          id,
		ProjectName: projectName,
		RepoName:    repoName,
		Objects:     objects,
		Index:       index,
	}
}

// Head returns the repository's current absolute revision, or INIT-1 (0)
// if no commit has ever been pushed.
func (r *Repository) Head(ctx context.Context) (dogma.Revision, error) {
	head, err := r.Index.Head(ctx)
	if err != nil {
		return 0, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.Head", Inner: err}
	}
	return dogma.Revision(head), nil
}

// Normalize resolves rev (which may be relative) against the repository's
// current head.
func (r *Repository) Normalize(ctx context.Context, rev dogma.Revision) (dogma.Revision, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return 0, err
	}
	return rev.Normalize(head)
}

// commitAt loads and decodes the commit stored at an already-normalized
// absolute revision.
func (r *Repository) commitAt(ctx context.Context, revision dogma.Revision) (*commitObject, objectstore.ID, error) {
	id, ok, err := r.Index.CommitAt(ctx, int64(revision))
	if err != nil {
		return nil, objectstore.ID{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.commitAt", Inner: err}
	}
	if !ok {
		return nil, objectstore.ID{}, &dogma.Error{Kind: dogma.ErrRevisionNotFound, Op: "Repository.commitAt", Message: revision.String()}
	}
	c, err := r.getCommit(ctx, id)
	if err != nil {
		return nil, objectstore.ID{}, err
	}
	return c, id, nil
}

// treeAt loads the decoded file tree for an already-normalized absolute
// revision. Revision 0 (no commits yet) is the empty tree.
func (r *Repository) treeAt(ctx context.Context, revision dogma.Revision) (tree, error) {
	if revision == 0 {
		return tree{}, nil
	}
	c, _, err := r.commitAt(ctx, revision)
	if err != nil {
		return nil, err
	}
	return r.getTree(ctx, c.TreeID)
}
