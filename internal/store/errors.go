package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an id does not resolve to a row.
var ErrNotFound = errors.New("not found")

// ErrConstraint is returned when inputs violate a declared invariant
// (bad category, bad role, importance out of range).
var ErrConstraint = errors.New("constraint violation")

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Constraint wraps ErrConstraint with detail.
func Constraint(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConstraint)...)
}
