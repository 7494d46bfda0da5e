// Package apperrors defines the error taxonomy shared by every risk component.
//
// Each error carries a Kind (matched with errors.Is against the Err* sentinels),
// the entity and id that triggered it, and the field or invariant that failed.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind sentinels. Match with errors.Is(err, apperrors.ErrNotFound).
var (
	// ErrValidation indicates malformed or out-of-range input. Not retryable.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown id (or an entity not eligible for the
	// operation, such as an inactive scenario).
	ErrNotFound = errors.New("not found")

	// ErrInsufficientData indicates there is not enough history for the
	// requested calculation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidState indicates the entity is in a state that forbids the
	// operation, e.g. closing an already closed position.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvariant indicates an internal invariant was violated. Fatal to the
	// calculation that produced it; never corrected silently.
	ErrInvariant = errors.New("internal invariant violation")
)

// Error is the concrete error returned by risk components.
type Error struct {
	Kind   error  // one of the Err* sentinels
	Entity string // e.g. "position", "scenario", "var_limit"
	ID     string // triggering entity id, may be empty for create requests
	Field  string // field or invariant name
	Msg    string
	Err    error // optional wrapped cause
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is this error's kind sentinel.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a ValidationError.
func Validation(entity, id, field, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Entity: entity, ID: id, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound error.
func NotFound(entity, id string) *Error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id, Field: "id"}
}

// NotEligible builds a NotFound error for an entity that exists but cannot be
// used, such as an inactive scenario.
func NotEligible(entity, id, field, reason string) *Error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id, Field: field, Msg: reason}
}

// InsufficientData builds an InsufficientData error.
func InsufficientData(entity, id, field string, have, need int) *Error {
	return &Error{
		Kind:   ErrInsufficientData,
		Entity: entity,
		ID:     id,
		Field:  field,
		Msg:    fmt.Sprintf("have %d observations, need at least %d", have, need),
	}
}

// InvalidState builds an InvalidState error.
func InvalidState(entity, id, field, format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidState, Entity: entity, ID: id, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Invariant builds an InternalInvariantViolation error.
func Invariant(entity, id, invariant, format string, args ...any) *Error {
	return &Error{Kind: ErrInvariant, Entity: entity, ID: id, Field: invariant, Msg: fmt.Sprintf(format, args...)}
}
