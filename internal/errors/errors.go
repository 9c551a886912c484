// Package errors consolidates error definitions for the entire project.
//
// This package provides:
// - Wire protocol error codes
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode and CodeToError mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire protocol error codes - carried in error responses
// ============================================================================

const (
	CodeUnknown          int32 = 1
	CodeAuthFailed       int32 = 2
	CodeNotAuthenticated int32 = 3
	CodeInvalidRequest   int32 = 4
	CodeNotFound         int32 = 5
	CodeInternal         int32 = 6
	CodeNotAuthorized    int32 = 7
	CodeInvalidVersion   int32 = 8
	CodeMalformedSample  int32 = 9
	CodeLockTimeout      int32 = 10
	CodeTimeout          int32 = 11
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeAuthFailed:
		return "AuthFailed"
	case CodeNotAuthenticated:
		return "NotAuthenticated"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeInternal:
		return "Internal"
	case CodeNotAuthorized:
		return "NotAuthorized"
	case CodeInvalidVersion:
		return "InvalidVersion"
	case CodeMalformedSample:
		return "MalformedSample"
	case CodeLockTimeout:
		return "LockTimeout"
	case CodeTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Storage errors
	ErrInvalidVersion  = errors.New("invalid version")
	ErrMalformedSample = errors.New("malformed sample")
	ErrLockTimeout     = errors.New("stream lock timeout")

	// ErrUnknownStream is only returned when the store runs in strict mode.
	// The default policy treats unknown streams as empty: queries return no
	// points and version 0.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrNoSuchPoint is returned by nearest-value queries when no point
	// exists in the requested direction.
	ErrNoSuchPoint = errors.New("no such point")

	// Validation errors
	ErrInvalidStreamID = errors.New("invalid stream id")
	ErrInvalidRange    = errors.New("invalid time range")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")

	// State errors
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrClosed         = errors.New("closed")

	// Auth/Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrSessionClosed    = errors.New("session is closed")

	// Protocol errors
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrMessageTooLarge  = errors.New("message too large")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a request validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidStreamID) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrMalformedSample)
}

// IsAuthError returns true if err is an authentication/authorization error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrInvalidToken)
}

// IsRetriable returns true if the error is potentially retriable.
// Lock timeouts and connection failures are transient; a retry of the same
// commit is safe because a failed commit applies nothing.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConnectionFailed)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	// Auth errors
	case Is(err, ErrInvalidToken):
		return CodeAuthFailed
	case Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case Is(err, ErrNotAuthorized):
		return CodeNotAuthorized

	// Storage errors
	case Is(err, ErrInvalidVersion):
		return CodeInvalidVersion
	case Is(err, ErrMalformedSample):
		return CodeMalformedSample
	case Is(err, ErrLockTimeout):
		return CodeLockTimeout
	case Is(err, ErrUnknownStream), Is(err, ErrNoSuchPoint):
		return CodeNotFound

	// Validation
	case IsValidation(err):
		return CodeInvalidRequest

	// Timeouts
	case Is(err, ErrTimeout):
		return CodeTimeout

	// Default to internal
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeAuthFailed:
		return ErrInvalidToken
	case CodeNotAuthenticated:
		return ErrNotAuthenticated
	case CodeInvalidRequest:
		return ErrInvalidConfig
	case CodeNotFound:
		return ErrUnknownStream
	case CodeNotAuthorized:
		return ErrNotAuthorized
	case CodeInvalidVersion:
		return ErrInvalidVersion
	case CodeMalformedSample:
		return ErrMalformedSample
	case CodeLockTimeout:
		return ErrLockTimeout
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMalformedSample creates a malformed sample error with context.
func NewMalformedSample(index int, reason string) error {
	return fmt.Errorf("sample %d: %s: %w", index, reason, ErrMalformedSample)
}

// NewInvalidVersion creates an invalid version error with context.
func NewInvalidVersion(requested, current uint64) error {
	return fmt.Errorf("version %d not committed (current %d): %w",
		requested, current, ErrInvalidVersion)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
