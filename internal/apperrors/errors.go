// Package apperrors provides the typed error model shared across the
// control plane: every operation that can fail returns (or wraps) an
// *AppError so callers can branch on Kind without parsing messages.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of failure a caller can react to.
type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindVersionConflict    Kind = "version_conflict"
	KindAttestationRejected Kind = "attestation_rejected"
	KindDownstream         Kind = "downstream"
)

// AppError is a structured error carrying an HTTP-equivalent status and
// optional details, independent of any transport.
type AppError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair for diagnostics and returns the
// same error for chaining.
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string, httpStatus int) *AppError {
	return &AppError{Kind: kind, Message: message, HTTPStatus: httpStatus}
}

func Wrap(kind Kind, message string, httpStatus int, err error) *AppError {
	return &AppError{Kind: kind, Message: message, HTTPStatus: httpStatus, Err: err}
}

// BadRequest — semantic input validation (negative quantity, unknown
// playbook, malformed tier).
func BadRequest(message string) *AppError {
	return New(KindBadRequest, message, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	return New(KindUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	return New(KindForbidden, message, http.StatusForbidden)
}

func NotFound(resource, id string) *AppError {
	return New(KindNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Conflict covers optimistic version mismatches and dedupe collisions
// (active remediation, duplicate promotion).
func Conflict(message string) *AppError {
	return New(KindConflict, message, http.StatusConflict)
}

// VersionConflict is a sub-kind of Conflict: registry/run/playbook
// version mismatches. Callers may retry after re-reading state.
func VersionConflict(entity string, expected, actual int64) *AppError {
	return New(KindVersionConflict, "version mismatch", http.StatusConflict).
		WithDetails("entity", entity).
		WithDetails("expected_version", expected).
		WithDetails("actual_version", actual)
}

// AttestationRejected signals an Untrusted verification outcome; it is
// not recoverable by retry.
func AttestationRejected(reason string) *AppError {
	return New(KindAttestationRejected, reason, http.StatusForbidden)
}

// Downstream wraps adapter/store/network failures.
func Downstream(operation string, err error) *AppError {
	return Wrap(KindDownstream, "downstream operation failed", http.StatusBadGateway, err).
		WithDetails("operation", operation)
}

// IsKind reports whether err (or anything it wraps) is an *AppError of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// Get extracts an *AppError from an error chain, if present.
func Get(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HTTPStatus returns the HTTP-equivalent status code for an error,
// defaulting to 500 for untyped errors.
func HTTPStatus(err error) int {
	if appErr := Get(err); appErr != nil {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
