package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones of a sentinel compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound         = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden        = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized     = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict         = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation       = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal         = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrFinalized        = New("FINALIZED", http.StatusConflict, "task finalized")
	ErrStoreUnavailable = New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "record store unavailable")
)

// StoreUnavailable wraps a read/write failure of the persisted store. It is the
// one error class derivation never degrades around.
func StoreUnavailable(err error, op string) *Error {
	return Wrap(err, ErrStoreUnavailable.Code, ErrStoreUnavailable.Status, op)
}

// IsStoreUnavailable reports whether err carries the store-unavailable code.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// MalformedRecordError marks a stored record missing a required identity field.
// The record is skipped; it never aborts the surrounding read.
type MalformedRecordError struct {
	Collection string
	Index      int
	Field      string
	Err        error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s record at index %d: %v", e.Collection, e.Index, e.Err)
	}
	return fmt.Sprintf("malformed %s record at index %d: missing %s", e.Collection, e.Index, e.Field)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// DanglingReferenceError marks a record whose taskId has no matching task.
type DanglingReferenceError struct {
	Collection string
	RecordID   string
	TaskID     string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s record %s references missing task %s", e.Collection, e.RecordID, e.TaskID)
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var malformed *MalformedRecordError
	if errors.As(err, &malformed) {
		return Wrap(err, ErrValidation.Code, ErrValidation.Status, malformed.Error())
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
