package v1

import "net/http"

func (h *HTTP) listRepos(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	// ListRepositories alone doesn't distinguish "project has no
	// repositories" from "project doesn't exist" (it's a plain filtered
	// query); GetProject does the existence check.
	if _, err := h.registry.GetProject(r.Context(), project); err != nil {
		writeError(w, err)
		return
	}
	includeRemoved := r.URL.Query().Get("status") == "removed"
	repos, err := h.registry.ListRepositories(r.Context(), project, includeRemoved)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *HTTP) createRepo(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if !decodeJSON(w, r, "createRepository", &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "createRepository", "name is required")
		return
	}
	repo, err := h.registry.CreateRepository(r.Context(), r.PathValue("project"), req.Name, req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (h *HTTP) removeRepo(w http.ResponseWriter, r *http.Request) {
	err := h.registry.RemoveRepository(r.Context(), r.PathValue("project"), r.PathValue("repo"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) unremoveRepo(w http.ResponseWriter, r *http.Request) {
	var patch statusPatch
	if !decodeJSON(w, r, "unremoveRepository", &patch) {
		return
	}
	if !patch.isUnremove() {
		badRequest(w, "unremoveRepository", "only {op:\"replace\",path:\"/status\",value:\"active\"} is supported")
		return
	}
	project, name := r.PathValue("project"), r.PathValue("repo")
	if err := h.registry.UnremoveRepository(r.Context(), project, name); err != nil {
		writeError(w, err)
		return
	}
	repo, err := h.registry.GetRepository(r.Context(), project, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}
