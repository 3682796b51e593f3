package domain

import (
	"errors"
	"fmt"
)

// ErrorKind taxonomizes failures the way the Worker and Orchestrator surface
// them to callers. Only the kind and Message cross the caller boundary;
// Cause is for logs.
type ErrorKind string

const (
	ErrInvalidInput       ErrorKind = "invalid_input"
	ErrNotFoundKind       ErrorKind = "not_found"
	ErrConflictKind       ErrorKind = "conflict"
	ErrAuthRequired       ErrorKind = "auth_required"
	ErrSourceUnavailable  ErrorKind = "source_unavailable"
	ErrExtractorTransient ErrorKind = "extractor_transient"
	ErrStorageUnavailable ErrorKind = "storage_unavailable"
	ErrStorageQuota       ErrorKind = "storage_quota"
	ErrTimeoutKind        ErrorKind = "timeout"
	ErrCancelledKind      ErrorKind = "cancelled"
	ErrInternalKind       ErrorKind = "internal"
)

// Error is the single typed error shape that crosses component boundaries.
// Inner components (storage, extractor, queue) return one of these rather
// than ad-hoc sentinel errors or string-matched messages.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, domain.NewError(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrInternalKind for
// errors the core did not classify itself.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrInternalKind
}

// Retryable reports whether the queue should nack-and-backoff rather than
// terminally fail the job for this error kind.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case ErrExtractorTransient, ErrStorageUnavailable, ErrTimeoutKind:
		return true
	default:
		return false
	}
}

// Sentinel values for errors.Is comparisons where only the kind matters.
var (
	ErrNotFound    = NewError(ErrNotFoundKind, "not found")
	ErrConflict    = NewError(ErrConflictKind, "conflict")
	ErrUnsupported = NewError(ErrInternalKind, "unsupported operation")
)
