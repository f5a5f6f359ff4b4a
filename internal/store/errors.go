package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Code identifies the category of a datastore failure.
//
// The numeric values are part of the C boundary and must not change.
type Code int

const (
	// ErrCodeNone is reported for a nil error.
	ErrCodeNone Code = 0

	// ErrCodeInvalidDatabaseVersion indicates a store older than the running
	// code with no migration path to the current version.
	ErrCodeInvalidDatabaseVersion Code = 1

	// ErrCodeRecordNotFound indicates the device record has never been set.
	ErrCodeRecordNotFound Code = 2

	// ErrCodeDatabaseError covers I/O faults and any failure without a more
	// specific category.
	ErrCodeDatabaseError Code = 3

	// ErrCodeDatabaseLocked indicates lock contention. Transient; callers
	// decide whether to retry.
	ErrCodeDatabaseLocked Code = 4

	// ErrCodeDatabaseCorrupt indicates an unreadable or malformed file.
	ErrCodeDatabaseCorrupt Code = 5

	// ErrCodeDatabaseTooRecent indicates a store written by newer code.
	ErrCodeDatabaseTooRecent Code = 6

	// ErrCodeConstraintFailed indicates a rejected write, e.g. a key conflict
	// under the Fail policy.
	ErrCodeConstraintFailed Code = 7
)

func (c Code) String() string {
	switch c {
	case ErrCodeNone:
		return "None"
	case ErrCodeInvalidDatabaseVersion:
		return "InvalidDatabaseVersion"
	case ErrCodeRecordNotFound:
		return "RecordNotFound"
	case ErrCodeDatabaseError:
		return "DatabaseError"
	case ErrCodeDatabaseLocked:
		return "DatabaseLocked"
	case ErrCodeDatabaseCorrupt:
		return "DatabaseCorrupt"
	case ErrCodeDatabaseTooRecent:
		return "DatabaseTooRecent"
	case ErrCodeConstraintFailed:
		return "ConstraintFailed"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// ParseCode is the inverse of Code.String for the seven error codes.
func ParseCode(s string) (Code, bool) {
	for c := ErrCodeInvalidDatabaseVersion; c <= ErrCodeConstraintFailed; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return ErrCodeNone, false
}

// Error is the only error type returned by this package and the layers above
// it. Every failure carries exactly one Code.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message describes the operation that failed.
	Message string

	// Err is the underlying engine error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error without an underlying cause.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err.
// Returns ErrCodeNone for nil and ErrCodeDatabaseError for errors that are
// not an *Error, so nothing escapes untyped.
func CodeOf(err error) Code {
	if err == nil {
		return ErrCodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeDatabaseError
}

// IsCode reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Classify converts an engine error into an *Error, labelling it with op.
// Errors that already carry a Code keep it.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return &Error{Code: typed.Code, Message: op, Err: err}
	}

	return &Error{Code: engineCode(err), Message: op, Err: err}
}

// engineCode maps SQLite result codes onto the error taxonomy.
func engineCode(err error) Code {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return ErrCodeDatabaseError
	}

	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ErrCodeDatabaseLocked
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return ErrCodeDatabaseCorrupt
	case sqlite3.ErrConstraint:
		return ErrCodeConstraintFailed
	default:
		return ErrCodeDatabaseError
	}
}
