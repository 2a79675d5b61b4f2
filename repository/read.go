package repository

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/dogmahq/dogma"
)

// FindOpts controls Find's behavior.
type FindOpts struct {
	// WithContent includes each matched entry's content. When false, only
	// path and type are populated (useful for cheap listings).
	WithContent bool
	// MaxEntries caps the number of entries returned; zero means
	// unlimited.
	MaxEntries int
}

// Get returns the entry or computed value query addresses at rev.
func (r *Repository) Get(ctx context.Context, rev dogma.Revision, query dogma.Query) (dogma.Entry, error) {
	if err := query.Validate(); err != nil {
		return dogma.Entry{}, err
	}
	abs, err := r.Normalize(ctx, rev)
	if err != nil {
		return dogma.Entry{}, err
	}
	t, err := r.treeAt(ctx, abs)
	if err != nil {
		return dogma.Entry{}, err
	}
	leaf, ok := t[query.Path]
	if !ok {
		return dogma.Entry{}, &dogma.Error{Kind: dogma.ErrEntryNotFound, Op: "Repository.Get", Message: string(query.Path)}
	}
	entry, err := r.getEntry(ctx, leaf)
	if err != nil {
		return dogma.Entry{}, err
	}
	if query.Kind == dogma.Identity || len(query.Expressions) == 0 {
		return entry, nil
	}
	if entry.Type != dogma.JSON {
		return dogma.Entry{}, &dogma.Error{Kind: dogma.ErrQueryExecution, Op: "Repository.Get", Message: "JSON_PATH query against non-JSON entry: " + string(query.Path)}
	}
	result, err := evalJSONPath(entry.JSONContent, query.Expressions)
	if err != nil {
		return dogma.Entry{}, err
	}
	entry.JSONContent = result
	return entry, nil
}

// evalJSONPath applies each of exprs, in order, to content using gjson's
// path syntax: the first expression is evaluated against content, and
// every subsequent expression against the previous result.
func evalJSONPath(content any, exprs []string) (any, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrQueryExecution, Op: "evalJSONPath", Inner: err}
	}
	for _, expr := range exprs {
		if !gjson.Valid(string(b)) {
			return nil, &dogma.Error{Kind: dogma.ErrQueryExecution, Op: "evalJSONPath", Message: "intermediate result is not valid JSON"}
		}
		res := gjson.GetBytes(b, expr)
		if !res.Exists() {
			return nil, &dogma.Error{Kind: dogma.ErrQueryExecution, Op: "evalJSONPath", Message: "no match for expression: " + expr}
		}
		b = []byte(res.Raw)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrQuerySyntax, Op: "evalJSONPath", Inner: err}
	}
	return out, nil
}

// Find returns every entry under rev whose path matches pattern. When
// opts.MaxEntries caps the result, the matching paths are sorted ascending
// and the first MaxEntries are kept; the returned map itself has no order.
func (r *Repository) Find(ctx context.Context, rev dogma.Revision, pattern dogma.PathPattern, opts FindOpts) (map[dogma.Path]dogma.Entry, error) {
	abs, err := r.Normalize(ctx, rev)
	if err != nil {
		return nil, err
	}
	compiled, err := pattern.Compile()
	if err != nil {
		return nil, err
	}
	t, err := r.treeAt(ctx, abs)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(t))
	for p := range t {
		if compiled.Match(string(p)) {
			paths = append(paths, string(p))
		}
	}
	sort.Strings(paths)
	if opts.MaxEntries > 0 && len(paths) > opts.MaxEntries {
		paths = paths[:opts.MaxEntries]
	}

	out := make(map[dogma.Path]dogma.Entry, len(paths))
	for _, ps := range paths {
		p := dogma.Path(ps)
		leaf := t[p]
		if !opts.WithContent {
			out[p] = dogma.Entry{Path: p, Type: leaf.Type}
			continue
		}
		entry, err := r.getEntry(ctx, leaf)
		if err != nil {
			return nil, err
		}
		out[p] = entry
	}
	return out, nil
}
