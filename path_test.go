package dogma

import (
	"errors"
	"testing"
)

func TestPathValidate(t *testing.T) {
	tests := []struct {
		path    Path
		wantErr bool
	}{
		{path: "/a.json", wantErr: false},
		{path: "/a/b/c.yaml", wantErr: false},
		{path: "/dir/", wantErr: false},
		{path: "/", wantErr: false},
		{path: "a.json", wantErr: true},
		{path: "", wantErr: true},
		{path: "/a//b", wantErr: true},
		{path: "/a/b$.json", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(string(tc.path), func(t *testing.T) {
			err := tc.path.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate(%q): err=%v, wantErr=%v", tc.path, err, tc.wantErr)
			}
		})
	}
}

func TestPathIsDirectory(t *testing.T) {
	if !Path("/").IsDirectory() {
		t.Error("root should be a directory")
	}
	if !Path("/dir/").IsDirectory() {
		t.Error("trailing-slash path should be a directory")
	}
	if Path("/file.json").IsDirectory() {
		t.Error("no-trailing-slash path should not be a directory")
	}
}

func TestPathPatternMatch(t *testing.T) {
	ok, err := PathPattern("/a/*.json").Match("/a/b.json")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !ok {
		t.Error("expected match")
	}

	_, err = PathPattern("not-anchored").Match("/a")
	if err == nil {
		t.Fatal("expected an error for an invalid pattern")
	}
	var de *Error
	if !errors.As(err, &de) || de.Kind != ErrInvalidArgument {
		t.Errorf("want ErrInvalidArgument, got %v", err)
	}
}
