package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// AuthenticationError indicates failed or missing credentials.
type AuthenticationError struct {
	message string
}

func NewAuthenticationError(msg string) error {
	return &AuthenticationError{message: msg}
}

func (err AuthenticationError) Error() string { return err.message }

// AuthorizationError indicates that the actor lacks the role or scope
// required for the target resource.
type AuthorizationError struct {
	message string
}

func NewAuthorizationError(msg string) error {
	return &AuthorizationError{message: msg}
}

func (err AuthorizationError) Error() string { return err.message }

// InvalidStateError indicates that the requested transition is not legal
// from the entity's current state, including decisions lost to a race.
type InvalidStateError struct {
	message string
}

func NewInvalidStateError(msg string) error {
	return &InvalidStateError{message: msg}
}

func (err InvalidStateError) Error() string { return err.message }

// NotFoundError indicates an unknown entity reference.
type NotFoundError struct {
	message string
}

func NewNotFoundError(msg string) error {
	return &NotFoundError{message: msg}
}

func (err NotFoundError) Error() string { return err.message }

// CollaboratorUnavailable marks a failed call to an optional external
// collaborator (verification, anchoring, storage, delivery). It is caught
// and logged near the call site; the primary operation proceeds degraded.
type CollaboratorUnavailable struct {
	Collaborator string
	Err          error
}

func (err CollaboratorUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", err.Collaborator, err.Err)
}

func (err CollaboratorUnavailable) Unwrap() error { return err.Err }

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
