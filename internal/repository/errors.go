package repository

import "errors"

// ErrNotFound is wrapped by every repository when a lookup misses, so
// callers can translate it with errors.Is regardless of entity type.
var ErrNotFound = errors.New("not found")
