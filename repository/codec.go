package repository

import (
	"context"
	"encoding/json"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/objectstore"
)

// commitObject is the on-disk shape of a dogma.Commit: identical fields,
// but TreeID in place of the materialized change set, since changes are
// only needed transiently during push and history/diff reconstruct them
// from tree comparisons instead of replaying them.
type commitObject struct {
	Revision   dogma.Revision `json:"revision"`
	Parent     dogma.Revision `json:"parent"`
	Author     dogma.Author   `json:"author"`
	WhenMillis int64          `json:"whenMillis"`
	Summary    string         `json:"summary"`
	Detail     string         `json:"detail,omitempty"`
	Markup     dogma.Markup   `json:"markup,omitempty"`
	TreeID     objectstore.ID `json:"treeId"`
}

func (r *Repository) getCommit(ctx context.Context, id objectstore.ID) (*commitObject, error) {
	_, b, ok, err := r.Objects.Get(ctx, id, objectstore.CommitObject)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getCommit", Inner: err}
	}
	if !ok {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getCommit", Message: "missing commit object " + id.String()}
	}
	var c commitObject
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.getCommit", Inner: err}
	}
	return &c, nil
}

func (r *Repository) putCommit(ctx context.Context, c commitObject) (objectstore.ID, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return objectstore.ID{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.putCommit", Inner: err}
	}
	id, err := r.Objects.Insert(ctx, objectstore.CommitObject, b)
	if err != nil {
		return objectstore.ID{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Repository.putCommit", Inner: err}
	}
	return id, nil
}

// toCommit renders a decoded commit object plus its originating changes as
// a public dogma.Commit.
func toCommit(c *commitObject, changes []dogma.Change) dogma.Commit {
	return dogma.Commit{
		Revision:   c.Revision,
		Parent:     c.Parent,
		Author:     c.Author,
		WhenMillis: c.WhenMillis,
		Summary:    c.Summary,
		Detail:     c.Detail,
		Markup:     c.Markup,
		Changes:    changes,
	}
}
