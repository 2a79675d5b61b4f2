package dogma

// EntryType identifies what kind of content an [Entry] carries.
type EntryType string

const (
	// DIRECTORY entries carry no content; they exist only so a path
	// hierarchy can be listed.
	DIRECTORY EntryType = "DIRECTORY"
	// JSON entries carry a parsed JSON tree.
	JSON EntryType = "JSON"
	// TEXT entries carry a UTF-8 string.
	TEXT EntryType = "TEXT"
)

// Entry is a (path, type, content) tuple as it exists at a specific
// revision. Entries are immutable: a path's entry at a given revision never
// changes after that revision is committed.
type Entry struct {
	// Path is this entry's location in the tree.
	Path Path `json:"path"`
	// Type says how Content should be interpreted.
	Type EntryType `json:"type"`
	// JSONContent holds the parsed tree for Type == JSON. It is nil for
	// all other types.
	JSONContent any `json:"content,omitempty"`
	// TextContent holds the raw string for Type == TEXT. It is empty for
	// all other types.
	TextContent string `json:"-"`
}

// IsDirectory reports whether e is a directory entry.
func (e Entry) IsDirectory() bool {
	return e.Type == DIRECTORY
}

// Validate reports whether e is internally consistent: its path is
// well-formed, a DIRECTORY entry carries no content, and a JSON/TEXT entry
// carries content of the matching kind.
func (e Entry) Validate() error {
	if err := e.Path.Validate(); err != nil {
		return err
	}
	switch e.Type {
	case DIRECTORY:
		if e.JSONContent != nil || e.TextContent != "" {
			return &Error{Kind: ErrInvalidArgument, Op: "Entry.Validate", Message: "directory entry carries content: " + string(e.Path)}
		}
		if !e.Path.IsDirectory() {
			return &Error{Kind: ErrInvalidArgument, Op: "Entry.Validate", Message: "directory entry path missing trailing slash: " + string(e.Path)}
		}
	case JSON:
		if e.Path.IsDirectory() {
			return &Error{Kind: ErrInvalidArgument, Op: "Entry.Validate", Message: "JSON entry path looks like a directory: " + string(e.Path)}
		}
	case TEXT:
		if e.Path.IsDirectory() {
			return &Error{Kind: ErrInvalidArgument, Op: "Entry.Validate", Message: "TEXT entry path looks like a directory: " + string(e.Path)}
		}
	default:
		return &Error{Kind: ErrInvalidArgument, Op: "Entry.Validate", Message: "unknown entry type: " + string(e.Type)}
	}
	return nil
}
