// Package apperr defines the error taxonomy shared by the query engine, the
// authorization gate, the referential validator and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how a caller can recover from it.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps the kind onto a transport status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Machine-readable codes carried alongside the kind.
const (
	CodeUnauthenticated  = "unauthenticated"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeMissingReference = "missing_reference"
	CodeInvalidReference = "invalid_reference"
	CodeInvalidFilter    = "invalid_filter"
	CodeInvalidPayload   = "invalid_payload"
	CodeDuplicate        = "duplicate"
	CodeInternal         = "internal_error"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	// Details holds per-field messages for collect-all validation failures.
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil && e.Kind == KindInternal {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code, so sentinels like ErrForbidden
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrInternal        = &Error{Kind: KindInternal}

	ErrMissingReference = &Error{Kind: KindNotFound, Code: CodeMissingReference}
	ErrInvalidReference = &Error{Kind: KindValidation, Code: CodeInvalidReference}
)

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: msg}
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: entity + " not found"}
}

// Validation reports a malformed input value for field.
func Validation(code, field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: msg}
}

// InvalidFilter reports a list-request parameter that could not be parsed.
func InvalidFilter(field, msg string) *Error {
	return Validation(CodeInvalidFilter, field, msg)
}

// InvalidPayload reports a write payload with one or more bad fields.
func InvalidPayload(details map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidPayload, Message: "payload failed validation", Details: details}
}

// MissingReference reports a foreign id that does not resolve to a row.
func MissingReference(field string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeMissingReference, Field: field, Message: "referenced record does not exist"}
}

// InvalidReference reports a foreign row that exists but violates a constraint.
func InvalidReference(field, reason string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidReference, Field: field, Message: reason}
}

func Conflict(field, msg string) *Error {
	return &Error{Kind: KindConflict, Code: CodeDuplicate, Field: field, Message: msg}
}

// Internal wraps an unexpected failure. The message shown to clients is opaque.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: op, Err: err}
}

// KindOf returns the kind of err, treating anything unclassified as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the *Error from err, wrapping unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected error", err)
}
