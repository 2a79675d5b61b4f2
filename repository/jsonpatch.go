package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dogmahq/dogma"
)

// jsonPatchOp is one operation of an RFC 6902 JSON Patch document.
type jsonPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from"`
	Value any    `json:"value"`
}

// applyJSONPatch applies an RFC 6902 JSON Patch document to content,
// returning the patched tree. A failing "test" operation, or an operation
// against a path that doesn't exist, is reported as a change-conflict:
// a patch that no longer applies cleanly against the base it targets is
// exactly the push pipeline's conflict case, not a validation failure.
func applyJSONPatch(content any, patchDoc string) (any, error) {
	var ops []jsonPatchOp
	if err := json.Unmarshal([]byte(patchDoc), &ops); err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "applyJSONPatch", Message: "malformed patch document", Inner: err}
	}

	b, err := json.Marshal(content)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "applyJSONPatch", Inner: err}
	}

	for _, op := range ops {
		path := pointerToPath(op.Path)
		switch op.Op {
		case "add", "replace":
			b, err = sjson.SetBytes(b, path, op.Value)
		case "remove":
			b, err = sjson.DeleteBytes(b, path)
		case "move":
			from := pointerToPath(op.From)
			res := gjson.GetBytes(b, from)
			if !res.Exists() {
				return nil, conflictf("move: source %q does not exist", op.From)
			}
			b, err = sjson.DeleteBytes(b, from)
			if err == nil {
				b, err = sjson.SetRawBytes(b, path, []byte(res.Raw))
			}
		case "copy":
			from := pointerToPath(op.From)
			res := gjson.GetBytes(b, from)
			if !res.Exists() {
				return nil, conflictf("copy: source %q does not exist", op.From)
			}
			b, err = sjson.SetRawBytes(b, path, []byte(res.Raw))
		case "test":
			res := gjson.GetBytes(b, path)
			want, werr := json.Marshal(op.Value)
			if werr != nil {
				return nil, &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "applyJSONPatch", Inner: werr}
			}
			if !res.Exists() || !jsonEqual(res.Raw, string(want)) {
				return nil, conflictf("test: %q did not match expected value", op.Path)
			}
		default:
			return nil, &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "applyJSONPatch", Message: "unknown patch op: " + op.Op}
		}
		if err != nil {
			return nil, conflictf("%s %q: %v", op.Op, op.Path, err)
		}
	}

	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrInvalidPush, Op: "applyJSONPatch", Inner: err}
	}
	return out, nil
}

// pointerToPath converts an RFC 6901 JSON Pointer into gjson/sjson's
// dot-separated path syntax.
func pointerToPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "@this"
	}
	segments := strings.Split(pointer, "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		seg = escapeSJSONSegment(seg)
		segments[i] = seg
	}
	return strings.Join(segments, ".")
}

func escapeSJSONSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		switch r {
		case '.', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// jsonEqual compares two JSON texts for semantic equality, tolerating
// whitespace and key-order differences.
func jsonEqual(a, b string) bool {
	var av, bv any
	if json.Unmarshal([]byte(a), &av) != nil || json.Unmarshal([]byte(b), &bv) != nil {
		return a == b
	}
	na, aok := av.(float64)
	nb, bok := bv.(float64)
	if aok && bok {
		return na == nb
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}

func conflictf(format string, args ...any) error {
	return &dogma.Error{Kind: dogma.ErrChangeConflict, Op: "applyJSONPatch", Message: fmt.Sprintf(format, args...)}
}
