package v1

import (
	"net/http"
)

func (h *HTTP) listProjects(w http.ResponseWriter, r *http.Request) {
	includeRemoved := r.URL.Query().Get("status") == "removed"
	projects, err := h.registry.ListProjects(r.Context(), includeRemoved)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *HTTP) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, "createProject", &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "createProject", "name is required")
		return
	}
	project, err := h.registry.CreateProject(r.Context(), req.Name, req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *HTTP) removeProject(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.RemoveProject(r.Context(), r.PathValue("project")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) unremoveProject(w http.ResponseWriter, r *http.Request) {
	var patch statusPatch
	if !decodeJSON(w, r, "unremoveProject", &patch) {
		return
	}
	if !patch.isUnremove() {
		badRequest(w, "unremoveProject", "only {op:\"replace\",path:\"/status\",value:\"active\"} is supported")
		return
	}
	name := r.PathValue("project")
	if err := h.registry.UnremoveProject(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	project, err := h.registry.GetProject(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}
