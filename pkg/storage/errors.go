package storage

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error from a storage backend.
//
// These are business logic errors (user not found, duplicate network, etc.)
// as opposed to infrastructure errors (disk failure, corrupt database), which
// are reported with ErrIOError and the underlying cause wrapped.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a storage error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested user, network, buffer or message doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a user or network with that name already exists
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided
	ErrInvalidArgument

	// ErrInvalidCredentials indicates a failed user validation. It never
	// distinguishes an unknown user from a wrong password.
	ErrInvalidCredentials

	// ErrNotInitialized indicates Init found no usable store; Setup is required
	ErrNotInitialized

	// ErrIOError indicates the backend failed to read or write
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrInvalidCredentials:
		return "invalid credentials"
	case ErrNotInitialized:
		return "not initialized"
	case ErrIOError:
		return "i/o error"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// NewError builds a StoreError with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapIO reports an infrastructure failure.
func WrapIO(err error, format string, args ...any) *StoreError {
	return &StoreError{Code: ErrIOError, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code. ok is false for errors that are not StoreErrors.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsAlreadyExists reports whether err is an ErrAlreadyExists StoreError.
func IsAlreadyExists(err error) bool { return hasCode(err, ErrAlreadyExists) }

// IsInvalidCredentials reports whether err is an ErrInvalidCredentials StoreError.
func IsInvalidCredentials(err error) bool { return hasCode(err, ErrInvalidCredentials) }

// IsNotInitialized reports whether err is an ErrNotInitialized StoreError.
func IsNotInitialized(err error) bool { return hasCode(err, ErrNotInitialized) }
