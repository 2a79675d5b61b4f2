package v1

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/watch"
	"github.com/dogmahq/dogma/repository"
)

// idempotencyHeader is the header a client may set to make a retried push
// recognized as the same command instead of running twice. Without it,
// every push gets a fresh token and runs unconditionally — correct for a
// first attempt, but retries are then the caller's own responsibility.
const idempotencyHeader = "Idempotency-Key"

func (h *HTTP) push(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Open(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	base, err := revisionParam(r, "revision")
	if err != nil {
		writeError(w, err)
		return
	}
	var req pushRequest
	if !decodeJSON(w, r, "push", &req) {
		return
	}
	if req.CommitMessage.Summary == "" {
		badRequest(w, "push", "commitMessage.summary is required")
		return
	}

	token, err := idempotencyToken(r)
	if err != nil {
		badRequest(w, "push", "malformed "+idempotencyHeader+" header")
		return
	}

	result, err := h.applier.Submit(r.Context(), repo, token, func(ctx context.Context, repo *repository.Repository) (any, error) {
		return repo.Push(ctx, base, req.Author, req.CommitMessage.Summary, req.CommitMessage.Detail, req.CommitMessage.Markup, req.Changes)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func idempotencyToken(r *http.Request) (uuid.UUID, error) {
	if v := r.Header.Get(idempotencyHeader); v != "" {
		return uuid.Parse(v)
	}
	return uuid.New(), nil
}

// lastKnownRevisionHeader names the header a timed-out watch response
// echoes back, so a client can tell at a glance that nothing changed.
const lastKnownRevisionHeader = "Last-Known-Revision"

func (h *HTTP) watchOne(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Open(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	lastKnown, err := revisionParam(r, "lastKnownRevision")
	if err != nil {
		writeError(w, err)
		return
	}
	timeout := watchTimeout(r)
	path := pathParam(r)

	// A literal path (no glob metacharacters) names a single file: watch
	// it as a query, so the response can carry that file's entry. A
	// pattern can match many files, so there's no single entry to
	// attach — only the fact that something under it changed.
	var check watch.CheckFunc
	var fileQuery *dogma.Query
	if isGlobPattern(path) {
		check = repo.WatchRepository(lastKnown, dogma.PathPattern(path))
	} else {
		q := dogma.Query{Path: path, Kind: dogma.Identity}
		if expr, ok := r.URL.Query()["jsonpath"]; ok && len(expr) > 0 {
			q.Kind = dogma.JSONPathQuery
			q.Expressions = expr
		}
		fileQuery = &q
		check = repo.WatchFile(lastKnown, q)
	}

	resultCh, cancel := h.watch.Subscribe(r.Context(), repo.ID, lastKnown, check, timeout)
	defer cancel()

	select {
	case <-r.Context().Done():
		return
	case result := <-resultCh:
		h.writeWatchResult(w, r, repo, result, fileQuery)
	}
}

func (h *HTTP) writeWatchResult(w http.ResponseWriter, r *http.Request, repo *repository.Repository, result watch.Result, fileQuery *dogma.Query) {
	switch {
	case result.Err != nil:
		writeError(w, result.Err)
	case result.TimedOut:
		w.Header().Set(lastKnownRevisionHeader, result.Revision.String())
		w.WriteHeader(http.StatusNotModified)
	default:
		resp := watchResponse{Revision: result.Revision}
		if fileQuery != nil {
			entry, err := repo.Get(r.Context(), result.Revision, *fileQuery)
			if err != nil {
				writeError(w, err)
				return
			}
			resp.Entry = &entry
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// isGlobPattern reports whether path carries any dogma.PathPattern glob
// metacharacter, per the syntax path.go documents: "*", "?", and ",".
func isGlobPattern(path dogma.Path) bool {
	return strings.ContainsAny(string(path), "*?,")
}

// watchTimeout resolves the watch request's timeout from, in order of
// precedence, the timeoutMillis query param and the RFC 7240 "Prefer:
// wait=<seconds>" header. Neither present means wait indefinitely.
func watchTimeout(r *http.Request) time.Duration {
	if s := r.URL.Query().Get("timeoutMillis"); s != "" {
		if ms, err := strconv.Atoi(s); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if pref := r.Header.Get("Prefer"); pref != "" {
		if _, wait, ok := strings.Cut(pref, "wait="); ok {
			if secs, err := strconv.Atoi(strings.TrimSpace(wait)); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}
