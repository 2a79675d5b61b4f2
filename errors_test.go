package dogma

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrStorage,
		Message: "test",
		Op:      "ExampleError",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrEntryNotFound,
		Message: "needed object missing",
		Op:      "Lookup",
	})
	err := &Error{
		Inner: &Error{
			Inner:   sql.ErrNoRows,
			Kind:    ErrEntryNotFound,
			Message: "needed object missing",
			Op:      "Lookup",
		},
		Kind: ErrStorage,
	}
	fmt.Println(err)
	fmt.Println(fmt.Errorf("somepackage: oops: %w", &Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrEntryNotFound,
		Message: "needed object missing",
		Op:      "Lookup",
	}))

	// Output:
	// ExampleError [storage]: test
	// Lookup [entry-not-found]: needed object missing: sql: no rows in result set
	// Lookup [entry-not-found]: needed object missing: sql: no rows in result set
	// somepackage: oops: Lookup [entry-not-found]: needed object missing: sql: no rows in result set
}

func TestErrorIs(t *testing.T) {
	err := &Error{Kind: ErrChangeConflict, Message: "concurrent push"}
	if !errors.Is(err, ErrChangeConflict) {
		t.Error("expected errors.Is to match on Kind")
	}
	if errors.Is(err, ErrRedundantChange) {
		t.Error("expected errors.Is not to match a different Kind")
	}

	wrapped := fmt.Errorf("push: %w", err)
	var target *Error
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to find the wrapped *Error")
	}
	if target.Kind != ErrChangeConflict {
		t.Errorf("got Kind %q, want %q", target.Kind, ErrChangeConflict)
	}
}

func TestErrorKindHTTPStatus(t *testing.T) {
	tt := []struct {
		Kind ErrorKind
		Want int
	}{
		{ErrInvalidArgument, 400},
		{ErrInvalidPush, 400},
		{ErrQuerySyntax, 400},
		{ErrProjectNotFound, 404},
		{ErrRepositoryNotFound, 404},
		{ErrEntryNotFound, 404},
		{ErrRevisionNotFound, 404},
		{ErrProjectExists, 409},
		{ErrRepositoryExists, 409},
		{ErrChangeConflict, 409},
		{ErrRedundantChange, 410},
		{ErrQueryExecution, 422},
		{ErrStorage, 500},
		{ErrShuttingDown, 503},
	}
	for _, tc := range tt {
		t.Run(string(tc.Kind), func(t *testing.T) {
			if got := tc.Kind.HTTPStatus(); got != tc.Want {
				t.Errorf("got: %d, want: %d", got, tc.Want)
			}
		})
	}
}

func TestUnknownKindRenders(t *testing.T) {
	err := &Error{Kind: ErrorKind("bogus"), Message: "oops"}
	const want = "[???]: oops"
	if got := err.Error(); got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if got := ErrorKind("bogus").HTTPStatus(); got != 500 {
		t.Errorf("got: %d, want: 500", got)
	}
}
