package store

import "errors"

var (
	// ErrDuplicateEntry indicates a second succeeded entry was recorded
	// for the same (engine, sequence). The ledger allows at most one.
	ErrDuplicateEntry = errors.New("duplicate succeeded entry")
)
