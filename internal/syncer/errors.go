package syncer

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error taxonomy. Use errors.Is to classify.
var (
	ErrTransientBackend = errors.New("transient backend error")
	ErrPermanentBackend = errors.New("permanent backend error")
	ErrNotFound         = errors.New("not found")
	ErrConflictState    = errors.New("invalid state")
	ErrValidation       = errors.New("validation failed")

	ErrInvalidTransition = fmt.Errorf("invalid job transition: %w", ErrConflictState)
	ErrDuplicateContent  = fmt.Errorf("file with identical content already exists: %w", ErrValidation)
)

// BackendError is returned by storage adapters. Transient errors are retried
// by the orchestrator; permanent ones end the branch immediately.
type BackendError struct {
	Op        string
	Backend   BackendKind
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Backend, e.Op, kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrTransientBackend:
		return e.Transient
	case ErrPermanentBackend:
		return !e.Transient
	}
	return false
}

// TransientError wraps err as a retryable backend failure.
func TransientError(backend BackendKind, op string, err error) error {
	return &BackendError{Op: op, Backend: backend, Transient: true, Err: err}
}

// PermanentError wraps err as a non-retryable backend failure.
func PermanentError(backend BackendKind, op string, err error) error {
	return &BackendError{Op: op, Backend: backend, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Errors that an adapter
// did not classify are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentBackend) || errors.Is(err, ErrValidation) {
		return false
	}
	return true
}

// NotFoundError reports a missing file, job or conflict identity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictStateError reports an operation that is invalid for the current
// state of a record, such as resolving an already resolved conflict.
type ConflictStateError struct {
	Msg string
}

func (e *ConflictStateError) Error() string { return e.Msg }

func (e *ConflictStateError) Is(target error) bool { return target == ErrConflictState }

// ValidationError reports a malformed request.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
