package dogma

import (
	"regexp"
	"strings"

	"github.com/dogmahq/dogma/pkg/pathglob"
)

// Path is a validated file or directory path within a repository tree.
//
// A Path starts with "/", has segments drawn from [A-Za-z0-9_.+-], contains
// no empty segments, and (for files) has no trailing slash. A directory path
// may end with "/".
type Path string

var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

// Validate reports whether p is a well-formed path.
func (p Path) Validate() error {
	s := string(p)
	if !strings.HasPrefix(s, "/") {
		return &Error{Kind: ErrInvalidArgument, Op: "Path.Validate", Message: "path must start with \"/\": " + s}
	}
	body := s[1:]
	trailingSlash := strings.HasSuffix(body, "/")
	if trailingSlash {
		body = body[:len(body)-1]
	}
	if body == "" {
		if trailingSlash {
			// "/" itself: the root directory.
			return nil
		}
		return &Error{Kind: ErrInvalidArgument, Op: "Path.Validate", Message: "empty path"}
	}
	for _, seg := range strings.Split(body, "/") {
		if seg == "" {
			return &Error{Kind: ErrInvalidArgument, Op: "Path.Validate", Message: "empty path segment in " + s}
		}
		if !pathSegment.MatchString(seg) {
			return &Error{Kind: ErrInvalidArgument, Op: "Path.Validate", Message: "invalid path segment " + seg + " in " + s}
		}
	}
	return nil
}

// IsDirectory reports whether p denotes a directory path (ends with "/", or
// is the root).
func (p Path) IsDirectory() bool {
	return strings.HasSuffix(string(p), "/") || p == "/"
}

// String implements fmt.Stringer.
func (p Path) String() string { return string(p) }

// PathPattern is a glob over repository paths: "*" matches within a segment,
// "**" matches across segments, "?" matches one character, and
// comma-separated alternatives match any-of. Patterns anchor at "/".
type PathPattern string

// Compile parses pp into a matcher.
func (pp PathPattern) Compile() (*pathglob.Pattern, error) {
	p, err := pathglob.Compile(string(pp))
	if err != nil {
		return nil, &Error{Kind: ErrInvalidArgument, Op: "PathPattern.Compile", Message: err.Error(), Inner: err}
	}
	return p, nil
}

// Match reports whether path matches the pattern, compiling it first.
//
// Callers evaluating the same pattern repeatedly should call [Compile] once
// and reuse the result instead.
func (pp PathPattern) Match(path Path) (bool, error) {
	p, err := pp.Compile()
	if err != nil {
		return false, err
	}
	return p.Match(string(path)), nil
}
