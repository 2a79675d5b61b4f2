package dogma

import (
	"regexp"
	"time"
)

// NamePattern is the regular expression every project and repository name
// must match.
var NamePattern = regexp.MustCompile(`^[0-9A-Za-z][-+_.0-9A-Za-z]*[0-9A-Za-z]?$`)

// ValidateName reports whether name is a legal project or repository name.
func ValidateName(op, name string) error {
	if !NamePattern.MatchString(name) {
		return &Error{Kind: ErrInvalidArgument, Op: op, Message: "invalid name: " + name}
	}
	return nil
}

// Project is a named collection of repositories.
type Project struct {
	Name         string       `json:"name"`
	CreatedBy    Author       `json:"createdBy"`
	CreatedAt    time.Time    `json:"createdAt"`
	Repositories []Repository `json:"repositories,omitempty"`
	RemovedAt    *time.Time   `json:"removedAt,omitempty"`
}

// IsRemoved reports whether p has been soft-removed.
func (p Project) IsRemoved() bool {
	return p.RemovedAt != nil
}

// Repository is a project's single append-only, version-controlled file
// tree.
type Repository struct {
	Project   string     `json:"project"`
	Name      string     `json:"name"`
	Head      Revision   `json:"head"`
	CreatedBy Author     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	RemovedAt *time.Time `json:"removedAt,omitempty"`
}

// IsRemoved reports whether r has been soft-removed.
func (r Repository) IsRemoved() bool {
	return r.RemovedAt != nil
}

// Reserved repository names. They exist implicitly in every project, hold
// internal metadata and tokens rather than user content, and can neither be
// created nor removed through the registry's normal lifecycle operations.
const (
	MetaRepository  = "meta"
	DogmaRepository = "dogma"
)

// IsReserved reports whether name is a reserved repository name.
func IsReserved(name string) bool {
	return name == MetaRepository || name == DogmaRepository
}
