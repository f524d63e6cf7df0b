package quota

import "errors"

var (
	// ErrNotFound indicates a missing account or item.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the conditional increment did not apply: the
	// counter reached its limit or the plan changed since it was read.
	ErrConflict = errors.New("conditional increment not applied")
)
