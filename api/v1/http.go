// Package v1 is the HTTP/JSON API described in spec.md §6, served under
// /api/v1. It is a thin translation layer: every handler decodes a
// request, calls straight into the registry, a repository, the watch
// manager, or the command applier, and encodes whatever typed value or
// [dogma.Error] comes back. It holds no state of its own.
package v1

import (
	"encoding/json"
	"net/http"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/applier"
	"github.com/dogmahq/dogma/internal/watch"
	"github.com/dogmahq/dogma/pkg/jsonerr"
	"github.com/dogmahq/dogma/registry"
)

var _ http.Handler = (*HTTP)(nil)

// HTTP is the v1 API's handler set, in the same shape as the teacher's
// libvuln.HTTP: an embedded *http.ServeMux plus the collaborators every
// handler needs, injected explicitly rather than reached for as
// package-level globals.
type HTTP struct {
	*http.ServeMux

	registry *registry.Registry
	watch    *watch.Manager
	applier  *applier.Applier
}

// NewHandler builds the v1 API, routed under prefix (typically "/api/v1").
func NewHandler(prefix string, reg *registry.Registry, watcher *watch.Manager, app *applier.Applier) *HTTP {
	h := &HTTP{registry: reg, watch: watcher, applier: app}
	m := http.NewServeMux()

	m.HandleFunc("GET "+prefix+"/projects", h.listProjects)
	m.HandleFunc("POST "+prefix+"/projects", h.createProject)
	m.HandleFunc("DELETE "+prefix+"/projects/{project}", h.removeProject)
	m.HandleFunc("PATCH "+prefix+"/projects/{project}", h.unremoveProject)

	m.HandleFunc("GET "+prefix+"/projects/{project}/repos", h.listRepos)
	m.HandleFunc("POST "+prefix+"/projects/{project}/repos", h.createRepo)
	m.HandleFunc("DELETE "+prefix+"/projects/{project}/repos/{repo}", h.removeRepo)
	m.HandleFunc("PATCH "+prefix+"/projects/{project}/repos/{repo}", h.unremoveRepo)

	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/files", h.getFile)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/files/{path...}", h.getFile)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/list", h.listFiles)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/list/{path...}", h.listFiles)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/history", h.history)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/history/{path...}", h.history)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/compare", h.compare)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/compare/{path...}", h.compare)

	m.HandleFunc("POST "+prefix+"/projects/{project}/repos/{repo}/contents", h.push)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/contents", h.watchOne)
	m.HandleFunc("GET "+prefix+"/projects/{project}/repos/{repo}/contents/{path...}", h.watchOne)

	h.ServeMux = m
	return h
}

// pathParam reconstructs a dogma.Path from a {path...} wildcard, which
// PathValue returns without its leading slash.
func pathParam(r *http.Request) dogma.Path {
	p := r.PathValue("path")
	if p == "" {
		return "/"
	}
	return dogma.Path("/" + p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp, status := jsonerr.FromError(err)
	jsonerr.Error(w, resp, status)
}

func badRequest(w http.ResponseWriter, op, message string) {
	writeError(w, &dogma.Error{Kind: dogma.ErrInvalidArgument, Op: op, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, op, "malformed request body: "+err.Error())
		return false
	}
	return true
}

// revisionParam parses a "revision" (or any other named) query parameter
// as a dogma.Revision, defaulting to Head when absent.
func revisionParam(r *http.Request, name string) (dogma.Revision, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return dogma.Head, nil
	}
	return dogma.ParseRevision(s)
}
