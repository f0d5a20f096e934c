package model

import (
	"errors"
	"fmt"
	"strings"
)

// GraphError is the error type surfaced by the storage core.
//
// Codes:
//   - SCHEMA_VIOLATION: properties rejected by the dictionary (before staging)
//   - CONFLICT: version mismatch at commit; the session is aborted
//   - SESSION_CLOSED: mutation on a committed or aborted session
//   - STORAGE_FAILURE: the database failed; the transaction is aborted
//   - NOT_FOUND: the referenced entity has no current row
type GraphError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Ref identifies the affected entity, if any.
	Ref *EntityRef

	// Fields lists offending property names (schema violations).
	Fields []string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes graph errors.
type ErrorCode string

const (
	ErrCodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeSessionClosed   ErrorCode = "SESSION_CLOSED"
	ErrCodeStorageFailure  ErrorCode = "STORAGE_FAILURE"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
)

// Error implements the error interface.
func (e *GraphError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Ref != nil {
		fmt.Fprintf(&b, " (%s)", e.Ref)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *GraphError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// IsSchemaViolation reports whether err is a schema violation.
func IsSchemaViolation(err error) bool { return hasCode(err, ErrCodeSchemaViolation) }

// IsConflict reports whether err is an optimistic version conflict.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsSessionClosed reports whether err came from a terminal session.
func IsSessionClosed(err error) bool { return hasCode(err, ErrCodeSessionClosed) }

// IsStorageFailure reports whether err is a storage failure.
func IsStorageFailure(err error) bool { return hasCode(err, ErrCodeStorageFailure) }

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// CodeOf returns the error code of err, or "" if err is not a GraphError.
func CodeOf(err error) ErrorCode {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// NewSchemaViolation creates a schema violation for ref listing the bad fields.
func NewSchemaViolation(ref EntityRef, message string, fields ...string) *GraphError {
	return &GraphError{
		Code:    ErrCodeSchemaViolation,
		Message: message,
		Ref:     &ref,
		Fields:  fields,
	}
}

// NewConflict creates a version conflict error.
func NewConflict(ref EntityRef, expected, actual int64) *GraphError {
	msg := fmt.Sprintf("expected version %d, found %d", expected, actual)
	if actual < 0 {
		msg = fmt.Sprintf("expected version %d, entity no longer current", expected)
	}
	return &GraphError{
		Code:    ErrCodeConflict,
		Message: msg,
		Ref:     &ref,
	}
}

// NewSessionClosed creates an error for a mutation on a terminal session.
func NewSessionClosed(txID, state string) *GraphError {
	return &GraphError{
		Code:    ErrCodeSessionClosed,
		Message: fmt.Sprintf("transaction %s is %s", txID, state),
	}
}

// NewStorageFailure wraps a database error.
func NewStorageFailure(op string, err error) *GraphError {
	return &GraphError{
		Code:    ErrCodeStorageFailure,
		Message: op,
		Err:     err,
	}
}

// NewNotFound creates a missing-entity error.
func NewNotFound(ref EntityRef) *GraphError {
	return &GraphError{
		Code:    ErrCodeNotFound,
		Message: "no current version",
		Ref:     &ref,
	}
}
