package domain

import "errors"

// ErrNotFound is the "no match" signal every backend returns for a missing
// identifier. Drivers wrap it, so compare with errors.Is.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned by backends asked to create a record under an
// identifier that is already taken.
var ErrConflict = errors.New("record already exists")
