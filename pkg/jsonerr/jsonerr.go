// Package jsonerr is the JSON error envelope used by api/v1, adapted from
// the teacher's error-response helper to this module's wire contract:
// "exception" instead of "code", and a direct mapping from a
// [dogma.Error]'s kind to both fields.
package jsonerr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dogmahq/dogma"
)

// Response is the body of every non-2xx api/v1 response:
// {"exception":"<kind>","message":"…"}.
type Response struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

// Error writes r as resp's body with the given HTTP status, mirroring
// net/http.Error's call shape: the caller must still return after calling
// this.
func Error(w http.ResponseWriter, r *Response, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpStatus)
	b, _ := json.Marshal(r)
	w.Write(b)
}

// FromError builds the Response and HTTP status for err. If err wraps a
// *dogma.Error, its Kind and HTTPStatus drive the response directly;
// otherwise it is reported as an opaque storage failure, since every error
// an engine operation can return should already be a *dogma.Error.
func FromError(err error) (*Response, int) {
	var derr *dogma.Error
	if errors.As(err, &derr) {
		return &Response{Exception: string(derr.Kind), Message: derr.Error()}, derr.Kind.HTTPStatus()
	}
	return &Response{Exception: string(dogma.ErrStorage), Message: err.Error()}, http.StatusInternalServerError
}
