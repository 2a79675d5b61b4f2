package dogma

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRevisionString(t *testing.T) {
	tests := []struct {
		name string
		rev  Revision
		want string
	}{
		{name: "init", rev: INIT, want: "1"},
		{name: "head zero", rev: Head, want: "head"},
		{name: "head negative one", rev: -1, want: "head"},
		{name: "relative", rev: -2, want: "-2"},
		{name: "large absolute", rev: 1000000, want: "1000000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rev.String(); got != tc.want {
				t.Errorf("String: want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseRevision(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Revision
	}{
		{name: "decimal", in: "42", want: 42},
		{name: "negative", in: "-3", want: -3},
		{name: "zero", in: "0", want: 0},
		{name: "head literal", in: "head", want: Head},
		{name: "head literal mixed case", in: "HeAd", want: Head},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRevision(tc.in)
			if err != nil {
				t.Fatalf("ParseRevision: %v", err)
			}
			if !cmp.Equal(tc.want, got) {
				t.Errorf("ParseRevision: want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParseRevisionInvalid(t *testing.T) {
	_, err := ParseRevision("not-a-number")
	if err == nil {
		t.Fatal("expected an error")
	}
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected a *Error, got %T", err)
	}
	if de.Kind != ErrInvalidArgument {
		t.Errorf("want Kind %v, got %v", ErrInvalidArgument, de.Kind)
	}
}

func TestRevisionNormalize(t *testing.T) {
	const head Revision = 10

	tests := []struct {
		name    string
		rev     Revision
		want    Revision
		wantErr bool
	}{
		{name: "head zero", rev: Head, want: 10},
		{name: "head negative one", rev: -1, want: 10},
		{name: "head minus one", rev: -2, want: 9},
		{name: "absolute in range", rev: 5, want: 5},
		{name: "init", rev: INIT, want: 1},
		{name: "absolute at head", rev: 10, want: 10},
		{name: "absolute past head", rev: 11, wantErr: true},
		{name: "relative past init", rev: -11, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.rev.Normalize(head)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				var de *Error
				if !errors.As(err, &de) || de.Kind != ErrRevisionNotFound {
					t.Errorf("want ErrRevisionNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got != tc.want {
				t.Errorf("Normalize: want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRevisionRoundTripText(t *testing.T) {
	// -1 is not included: it stringifies to the same "head" literal as 0,
	// so it round-trips to Head rather than itself. Negative revisions
	// other than -1 keep their decimal spelling and round-trip exactly.
	for _, rev := range []Revision{INIT, Head, -5, 99} {
		b, err := rev.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var got Revision
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText: %v", err)
		}
		if got != rev {
			t.Errorf("round trip: want %v, got %v", rev, got)
		}
	}
}
