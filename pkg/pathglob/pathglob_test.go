package pathglob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{name: "exact", pattern: "/a/b.json", path: "/a/b.json", want: true},
		{name: "exact mismatch", pattern: "/a/b.json", path: "/a/c.json", want: false},
		{name: "star within segment", pattern: "/a/*.json", path: "/a/b.json", want: true},
		{name: "star does not cross segment", pattern: "/a/*.json", path: "/a/b/c.json", want: false},
		{name: "double star crosses segments", pattern: "/a/**", path: "/a/b/c.json", want: true},
		{name: "double star does not match bare parent", pattern: "/a/**", path: "/a", want: false},
		{name: "double star matches trailing slash", pattern: "/a/**", path: "/a/", want: true},
		{name: "question mark one char", pattern: "/a/?.json", path: "/a/b.json", want: true},
		{name: "question mark rejects extra char", pattern: "/a/?.json", path: "/a/bb.json", want: false},
		{name: "alternatives first", pattern: "/a.json,/b.json", path: "/a.json", want: true},
		{name: "alternatives second", pattern: "/a.json,/b.json", path: "/b.json", want: true},
		{name: "alternatives miss", pattern: "/a.json,/b.json", path: "/c.json", want: false},
		{name: "root double star matches everything", pattern: "/**", path: "/deeply/nested/file.yaml", want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Compile(tc.pattern)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tc.pattern, err)
			}
			if got := p.Match(tc.path); got != tc.want {
				t.Errorf("Match(%q) against %q: want %v, got %v", tc.pattern, tc.path, tc.want, got)
			}
		})
	}
}

func TestCompileInvalid(t *testing.T) {
	tests := []string{
		"",
		"a/b",        // missing leading slash
		"/a,,/b",     // empty alternative
		"/a,",        // trailing comma
	}
	for _, pattern := range tests {
		t.Run(pattern, func(t *testing.T) {
			if _, err := Compile(pattern); err == nil {
				t.Errorf("Compile(%q): expected error", pattern)
			}
		})
	}
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustCompile to panic on an invalid pattern")
		}
	}()
	MustCompile("not-anchored")
}
