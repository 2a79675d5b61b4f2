package dogma

// Author identifies who made a commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Markup says how a commit's Detail field should be rendered.
type Markup string

const (
	Plaintext Markup = "PLAINTEXT"
	Markdown  Markup = "MARKDOWN"
)

// Commit is an immutable, dense step in a repository's history.
//
// Revision numbers are dense and strictly increasing by one: for any commit
// other than the genesis commit, Parent+1 == Revision. The genesis commit
// has Revision == INIT and Parent == 0.
type Commit struct {
	Revision   Revision `json:"revision"`
	Parent     Revision `json:"parent"`
	Author     Author   `json:"author"`
	WhenMillis int64    `json:"whenMillis"`
	Summary    string   `json:"summary"`
	Detail     string   `json:"detail,omitempty"`
	Markup     Markup   `json:"markup,omitempty"`
	Changes    []Change `json:"changes"`
}

// IsGenesis reports whether c is a repository's first commit.
func (c Commit) IsGenesis() bool {
	return c.Revision == INIT
}

// Validate reports whether c is internally consistent, independent of any
// repository state: its revision math is sane and every change is
// well-formed. It does not check c against a particular repository's head
// or tree — that is the push pipeline's job.
func (c Commit) Validate() error {
	if c.Revision < INIT {
		return &Error{Kind: ErrInvalidPush, Op: "Commit.Validate", Message: "revision below INIT"}
	}
	if c.IsGenesis() {
		if c.Parent != 0 {
			return &Error{Kind: ErrInvalidPush, Op: "Commit.Validate", Message: "genesis commit must have no parent"}
		}
	} else if c.Parent+1 != c.Revision {
		return &Error{Kind: ErrInvalidPush, Op: "Commit.Validate", Message: "revision is not parent+1"}
	}
	if c.Summary == "" {
		return &Error{Kind: ErrInvalidPush, Op: "Commit.Validate", Message: "summary required"}
	}
	if len(c.Changes) == 0 {
		return &Error{Kind: ErrRedundantChange, Op: "Commit.Validate", Message: "commit has no changes"}
	}
	for _, ch := range c.Changes {
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	return nil
}
