package revindex

import "errors"

// ErrNotDense is returned by Put when the requested revision is not
// exactly one greater than the repository's current head.
var ErrNotDense = errors.New("revindex: revision is not dense with head")
