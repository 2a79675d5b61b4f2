package v1

import "github.com/dogmahq/dogma"

// createProjectRequest is the body of POST /projects. createdBy has no
// analogue in spec.md's body shape (`{"name":…}`) because the spec treats
// authentication as an external collaborator's concern; since this module
// carries no auth layer, the caller supplies the attribution directly
// instead of it being derived from a session.
type createProjectRequest struct {
	Name      string       `json:"name"`
	CreatedBy dogma.Author `json:"createdBy"`
}

// createRepoRequest is the body of POST /projects/{p}/repos.
type createRepoRequest struct {
	Name      string       `json:"name"`
	CreatedBy dogma.Author `json:"createdBy"`
}

// statusPatch is the body of PATCH /projects/{p} and
// PATCH /projects/{p}/repos/{r}: a single JSON-Patch operation that
// un-removes the target, per spec.md §6.
type statusPatch struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

func (p statusPatch) isUnremove() bool {
	return p.Op == "replace" && p.Path == "/status" && p.Value == "active"
}

// commitMessage mirrors the wire shape used by Central Dogma's own
// clients: {summary, detail, markup}.
type commitMessage struct {
	Summary string       `json:"summary"`
	Detail  string       `json:"detail,omitempty"`
	Markup  dogma.Markup `json:"markup,omitempty"`
}

// pushRequest is the body of POST .../contents. Author is carried
// explicitly for the same reason createProjectRequest.CreatedBy is: there
// is no auth layer to derive it from.
type pushRequest struct {
	CommitMessage commitMessage  `json:"commitMessage"`
	Author        dogma.Author   `json:"author"`
	Changes       []dogma.Change `json:"changes"`
}

// entryResponse is what GET .../files{path} returns for a matched entry.
type entryResponse struct {
	Revision dogma.Revision `json:"revision"`
	Entry    dogma.Entry    `json:"entry,omitempty"`
}

// watchResponse is the body of a 200 from the watch endpoint; a 304 carries
// no body, only the Last-Known-Revision header.
type watchResponse struct {
	Revision dogma.Revision `json:"revision"`
	Entry    *dogma.Entry   `json:"entry,omitempty"`
}
