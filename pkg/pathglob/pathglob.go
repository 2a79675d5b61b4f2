// Package pathglob implements Central Dogma's path-pattern dialect: a glob
// anchored at "/", where "*" matches within one segment, "**" matches any run
// of characters across segments (possibly empty, so "/a/**" matches "/a/" but
// not "/a"), "?" matches one character, and commas separate alternative
// patterns to match any-of.
//
// No glob library in the wider ecosystem combines comma-separated
// alternatives with a double-star/single-star distinction in one syntax, so
// this package compiles patterns down to stdlib regexp instead of adopting a
// third-party glob engine.
package pathglob

import (
	"regexp"
	"strings"
)

// Pattern is a compiled path pattern: one or more comma-separated
// alternatives, any of which may match a candidate path.
type Pattern struct {
	raw  string
	alts []*regexp.Regexp
}

// String returns the original, uncompiled pattern text.
func (p *Pattern) String() string { return p.raw }

// Match reports whether path matches the pattern.
//
// path is expected to already be a well-formed [dogma.Path] (leading "/", no
// "." or ".." segments); Match does no normalization of its own.
func (p *Pattern) Match(path string) bool {
	for _, re := range p.alts {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Compile parses pattern into a [Pattern].
//
// An empty alternative (e.g. from "/a,,/b" or a leading/trailing comma) is
// rejected as invalid.
func Compile(pattern string) (*Pattern, error) {
	parts := splitAlternatives(pattern)
	p := &Pattern{raw: pattern, alts: make([]*regexp.Regexp, 0, len(parts))}
	for _, alt := range parts {
		if alt == "" {
			return nil, &compileError{pattern: pattern, reason: "empty alternative"}
		}
		if !strings.HasPrefix(alt, "/") {
			return nil, &compileError{pattern: alt, reason: "pattern must anchor at \"/\""}
		}
		re, err := compileAlternative(alt)
		if err != nil {
			return nil, err
		}
		p.alts = append(p.alts, re)
	}
	if len(p.alts) == 0 {
		return nil, &compileError{pattern: pattern, reason: "empty pattern"}
	}
	return p, nil
}

// MustCompile is like [Compile] but panics on error. Intended for
// compile-time-constant patterns.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// compileError is the concrete error type [Compile] returns.
type compileError struct {
	pattern string
	reason  string
}

func (e *compileError) Error() string {
	return "pathglob: " + e.reason + ": " + e.pattern
}

// SplitAlternatives splits a pattern on top-level commas. There is no
// escaping or nesting in this dialect, so a plain strings.Split suffices.
func splitAlternatives(pattern string) []string {
	return strings.Split(pattern, ",")
}

// CompileAlternative translates one glob alternative into an anchored
// regexp.
func compileAlternative(alt string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(alt)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, &compileError{pattern: alt, reason: err.Error()}
	}
	return re, nil
}
