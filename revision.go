package dogma

import (
	"strconv"
	"strings"
)

// Revision identifies a commit within a repository.
//
// INIT is the revision of a repository's first commit. Positive values are
// absolute revision numbers. Non-positive values are relative to a
// repository's head: 0 and -1 both mean HEAD, -2 means HEAD-1, and so on.
// Relative revisions must be resolved to absolute ([Repository] does this
// via normalize) before they're persisted anywhere.
//
// Revisions from different repositories are never comparable: a Revision is
// only meaningful paired with the repository it was obtained from.
type Revision int64

// INIT is the revision of a repository's first commit.
const INIT Revision = 1

// Head is the revision literal meaning "the current head", spelled either as
// 0 or as the literal "head" in text form.
const Head Revision = 0

// IsRelative reports whether r must be resolved against a repository's head
// before use.
func (r Revision) IsRelative() bool {
	return r <= 0
}

// String implements fmt.Stringer.
//
// Revision -1 renders the same as Head (0): both are spellings of "the
// current head", per the relative-revision scheme documented on Revision.
func (r Revision) String() string {
	if r == Head || r == -1 {
		return "head"
	}
	return strconv.FormatInt(int64(r), 10)
}

// MarshalText implements encoding.TextMarshaler.
func (r Revision) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
//
// It accepts both decimal integers (positive, zero, or negative) and the
// case-insensitive literal "head".
func (r *Revision) UnmarshalText(t []byte) error {
	parsed, err := ParseRevision(string(t))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRevision parses s as a [Revision].
//
// s may be a decimal integer or the literal "head" (case-insensitive).
func ParseRevision(s string) (Revision, error) {
	if strings.EqualFold(s, "head") {
		return Head, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &Error{
			Kind:    ErrInvalidArgument,
			Op:      "ParseRevision",
			Message: "not a decimal integer or \"head\"",
			Inner:   err,
		}
	}
	return Revision(n), nil
}

// Normalize resolves r against head, the repository's current absolute
// revision, returning an absolute revision.
//
// 0 and -1 both resolve to head itself; -2 resolves to head-1, -3 to
// head-2, and so on.
//
// It fails with [ErrRevisionNotFound] if the resolved revision would fall
// outside [INIT, head].
func (r Revision) Normalize(head Revision) (Revision, error) {
	var abs Revision
	switch {
	case r == Head || r == -1:
		abs = head
	case r < 0:
		abs = head + r + 1
	default:
		abs = r
	}
	if abs < INIT || abs > head {
		return 0, &Error{
			Kind:    ErrRevisionNotFound,
			Op:      "Revision.Normalize",
			Message: "revision " + r.String() + " out of range [" + INIT.String() + ", " + head.String() + "]",
		}
	}
	return abs, nil
}
