// Package errors provides structured error types for the workspace engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrNotAMember = errors.New("not a member of this project")
	ErrDuplicate  = errors.New("resource already exists")
)

// ValidationError reports a malformed request body or field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PersistenceError wraps a failed durable write. A write that returns one of
// these must never be announced to other room members.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err with the failing operation name.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// SandboxStage identifies which lifecycle step of a run failed.
type SandboxStage string

const (
	StageMount   SandboxStage = "mount"
	StageInstall SandboxStage = "install"
	StageStart   SandboxStage = "start"
)

// SandboxError reports a failed sandbox lifecycle step. It is surfaced to
// the owning client only, never to other room members.
type SandboxError struct {
	Stage SandboxStage
	Err   error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s failed: %v", e.Stage, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// NewSandboxError wraps err with the failing stage.
func NewSandboxError(stage SandboxStage, err error) *SandboxError {
	return &SandboxError{Stage: stage, Err: err}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is a persistence error.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
