package dogma

import (
	"errors"
	"strings"
)

// Error is the dogma error domain type.
//
// Errors coming from dogma components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of dogma components should create an Error at the system
// boundary (e.g. when using a database client or reading a file) and
// intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. That is to say, use [fmt.Errorf] with a
// "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	if isKnownKind(e.Kind) {
		b.WriteString(string(e.Kind))
	} else {
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents the closed set of error classes an engine operation
// can fail with.
//
// If an error is unsure which kind to use, ErrStorage should be used: it is
// the catch-all "non-specific internal error" kind, and the HTTP layer maps
// it to 500.
type ErrorKind string

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// Defined error kinds. These map 1:1 onto the "exception" field of the
// HTTP/JSON API's error body and are the only kinds an engine operation may
// surface.
var (
	ErrInvalidArgument    = ErrorKind("invalid-argument") // malformed path/name/query/revision literal
	ErrProjectNotFound    = ErrorKind("project-not-found")
	ErrProjectExists      = ErrorKind("project-exists")
	ErrRepositoryNotFound = ErrorKind("repository-not-found")
	ErrRepositoryExists   = ErrorKind("repository-exists")
	ErrEntryNotFound      = ErrorKind("entry-not-found")
	ErrRevisionNotFound   = ErrorKind("revision-not-found")
	ErrInvalidPush        = ErrorKind("invalid-push")     // over size/count limits, bad content type
	ErrChangeConflict     = ErrorKind("change-conflict")  // concurrent modification of the same path
	ErrRedundantChange    = ErrorKind("redundant-change") // the push would not change state
	ErrQuerySyntax        = ErrorKind("query-syntax")     // JSON-path compile error
	ErrQueryExecution     = ErrorKind("query-execution")  // JSON-path evaluation error, including "no match"
	ErrStorage            = ErrorKind("storage")          // backend I/O/crypto failure
	ErrShuttingDown       = ErrorKind("shutting-down")    // server is terminating
)

// knownKinds backs isKnownKind; populated from the declarations above so the
// literal var block stays the single source of truth.
var knownKinds = map[ErrorKind]struct{}{
	ErrInvalidArgument:    {},
	ErrProjectNotFound:    {},
	ErrProjectExists:      {},
	ErrRepositoryNotFound: {},
	ErrRepositoryExists:   {},
	ErrEntryNotFound:      {},
	ErrRevisionNotFound:   {},
	ErrInvalidPush:        {},
	ErrChangeConflict:     {},
	ErrRedundantChange:    {},
	ErrQuerySyntax:        {},
	ErrQueryExecution:     {},
	ErrStorage:            {},
	ErrShuttingDown:       {},
}

func isKnownKind(k ErrorKind) bool {
	_, ok := knownKinds[k]
	return ok
}

// HTTPStatus maps an ErrorKind to the HTTP status code the API layer should
// respond with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrInvalidArgument, ErrInvalidPush, ErrQuerySyntax:
		return 400
	case ErrProjectNotFound, ErrRepositoryNotFound, ErrEntryNotFound, ErrRevisionNotFound:
		return 404
	case ErrProjectExists, ErrRepositoryExists, ErrChangeConflict:
		return 409
	case ErrRedundantChange:
		return 410
	case ErrQueryExecution:
		return 422
	case ErrShuttingDown:
		return 503
	default:
		return 500
	}
}
