package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dogmahq/dogma"
)

// unifiedDiff renders a unified diff between a and b using go-difflib, the
// same library the push pipeline's applyTextPatch consumes, so a diff this
// package produces round-trips through its own patch application.
func unifiedDiff(path dogma.Path, a, b string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: string(path),
		ToFile:   string(path),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// applyUnifiedDiff applies a unified diff (as produced by unifiedDiff, or
// any tool emitting the same hunk format) to original.
//
// go-difflib only generates unified diffs; it has no patch-application
// counterpart, and no library in the retrieval pack implements one, so
// this hunk parser is hand-written against the format go-difflib itself
// emits (standard "@@ -l,s +l,s @@" headers with ' '/'-'/'+' prefixed
// lines).
func applyUnifiedDiff(original, patch string) (string, error) {
	origLines := difflib.SplitLines(original)
	patchLines := strings.Split(patch, "\n")

	var out []string
	srcIdx := 0 // next unconsumed line of origLines, 0-based

	i := 0
	for i < len(patchLines) {
		line := patchLines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}
		fromStart, _, err := parseHunkRange(line, '-')
		if err != nil {
			return "", &dogma.Error{Kind: dogma.ErrChangeConflict, Op: "applyUnifiedDiff", Message: "malformed hunk header", Inner: err}
		}
		// Copy through any untouched lines before this hunk.
		for srcIdx < fromStart-1 && srcIdx < len(origLines) {
			out = append(out, origLines[srcIdx])
			srcIdx++
		}
		i++
		for i < len(patchLines) {
			l := patchLines[i]
			if strings.HasPrefix(l, "@@") || (l == "" && i == len(patchLines)-1) {
				break
			}
			if l == "" {
				i++
				continue
			}
			switch l[0] {
			case ' ':
				if srcIdx >= len(origLines) || !linesEqual(origLines[srcIdx], l[1:]) {
					return "", &dogma.Error{Kind: dogma.ErrChangeConflict, Op: "applyUnifiedDiff", Message: "context line mismatch"}
				}
				out = append(out, origLines[srcIdx])
				srcIdx++
			case '-':
				if srcIdx >= len(origLines) || !linesEqual(origLines[srcIdx], l[1:]) {
					return "", &dogma.Error{Kind: dogma.ErrChangeConflict, Op: "applyUnifiedDiff", Message: "removed line mismatch"}
				}
				srcIdx++
			case '+':
				out = append(out, ensureNewline(l[1:]))
			default:
				return "", &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "applyUnifiedDiff", Message: "malformed patch line: " + l}
			}
			i++
		}
	}
	for srcIdx < len(origLines) {
		out = append(out, origLines[srcIdx])
		srcIdx++
	}
	return strings.Join(out, ""), nil
}

func linesEqual(withNewline, withoutNewline string) bool {
	return strings.TrimRight(withNewline, "\n") == strings.TrimRight(withoutNewline, "\n")
}

func ensureNewline(l string) string {
	if strings.HasSuffix(l, "\n") {
		return l
	}
	return l + "\n"
}

// parseHunkRange parses the "-l,s" or "+l,s" component of a "@@ ... @@"
// header, returning the starting line (1-based) and span.
func parseHunkRange(header string, marker byte) (start, span int, err error) {
	fields := strings.Fields(header)
	for _, f := range fields {
		if len(f) == 0 || f[0] != marker {
			continue
		}
		parts := strings.SplitN(f[1:], ",", 2)
		start, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, err
		}
		span = 1
		if len(parts) == 2 {
			span, err = strconv.Atoi(parts[1])
			if err != nil {
				return 0, 0, err
			}
		}
		return start, span, nil
	}
	return 0, 0, fmt.Errorf("no %c-range field in hunk header %q", marker, header)
}
