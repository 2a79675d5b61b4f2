package v1

import (
	"net/http"
	"strconv"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/repository"
)

func repositoryFindOpts(r *http.Request) repository.FindOpts {
	var opts repository.FindOpts
	if b, err := strconv.ParseBool(r.URL.Query().Get("withContent")); err == nil {
		opts.WithContent = b
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("maxEntries")); err == nil {
		opts.MaxEntries = n
	}
	return opts
}

func (h *HTTP) getFile(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Open(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	rev, err := revisionParam(r, "revision")
	if err != nil {
		writeError(w, err)
		return
	}
	query := dogma.Query{Path: pathParam(r), Kind: dogma.Identity}
	if expr, ok := r.URL.Query()["jsonpath"]; ok && len(expr) > 0 {
		query.Kind = dogma.JSONPathQuery
		query.Expressions = expr
	}
	abs, err := repo.Normalize(r.Context(), rev)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := repo.Get(r.Context(), abs, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{Revision: abs, Entry: entry})
}

type listResponse struct {
	Revision dogma.Revision             `json:"revision"`
	Entries  map[dogma.Path]dogma.Entry `json:"entries"`
}

func (h *HTTP) listFiles(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Open(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	rev, err := revisionParam(r, "revision")
	if err != nil {
		writeError(w, err)
		return
	}
	opts := repositoryFindOpts(r)
	pattern := dogma.PathPattern(pathParam(r))
	abs, err := repo.Normalize(r.Context(), rev)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := repo.Find(r.Context(), abs, pattern, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Revision: abs, Entries: entries})
}

type historyResponse struct {
	Commits []dogma.Commit `json:"commits"`
}

func (h *HTTP) history(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Open(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	from, err := revisionFormParam(r, "from", dogma.INIT)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := revisionParam(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	maxCommits := 0
	if s := r.URL.Query().Get("maxCommits"); s != "" {
		maxCommits, err = strconv.Atoi(s)
		if err != nil {
			badRequest(w, "history", "maxCommits must be an integer")
			return
		}
	}
	pattern := dogma.PathPattern(pathParam(r))
	commits, err := repo.History(r.Context(), from, to, pattern, maxCommits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Commits: commits})
}

type compareResponse struct {
	From    dogma.Revision              `json:"from"`
	To      dogma.Revision              `json:"to"`
	Changes map[dogma.Path]dogma.Change `json:"changes"`
}

func (h *HTTP) compare(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Open(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	from, err := revisionFormParam(r, "from", dogma.INIT)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := revisionParam(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	pattern := dogma.PathPattern(pathParam(r))
	changes, err := repo.Diff(r.Context(), from, to, pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compareResponse{From: from, To: to, Changes: changes})
}

// revisionFormParam is revisionParam with a caller-supplied default instead
// of always defaulting to Head, for endpoints (history, compare) where an
// absent "from" means "since the beginning" rather than "at head".
func revisionFormParam(r *http.Request, name string, dflt dogma.Revision) (dogma.Revision, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return dflt, nil
	}
	return dogma.ParseRevision(s)
}
