// Package errors defines the coded domain errors shared by the catalog,
// matching, import and lifecycle layers.
//
// Callers classify failures by code rather than by message:
//
//	if errors.Is(err, errors.ErrQuotaExceeded) {
//	    // tell the user to wait for an approval
//	}
//
//	switch errors.CodeOf(err) {
//	case errors.CodeCatalogUnavailable, errors.CodeRateLimited:
//	    // retryable
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions so callers only import one errors package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code is a machine-readable error class.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidation         Code = "VALIDATION"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"

	CodeCatalogUnavailable Code = "CATALOG_UNAVAILABLE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeNoMatch            Code = "NO_MATCH"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeDuplicateRequest   Code = "DUPLICATE_REQUEST"
	CodeChannelNotVerified Code = "CHANNEL_NOT_VERIFIED"
)

// HTTPStatus returns the HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden, CodeQuotaExceeded:
		return http.StatusForbidden
	case CodeConflict, CodeAlreadyExists, CodeDuplicateRequest:
		return http.StatusConflict
	case CodeNoMatch, CodeInvalidTransition, CodeChannelNotVerified:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCatalogUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a failure of this class may succeed when retried later.
func (c Code) Retryable() bool {
	return c == CodeCatalogUnavailable || c == CodeRateLimited || c == CodeConflict
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error. A transition
// refused because of the caller's role reports 403 rather than 422.
func (e *Error) HTTPStatus() int {
	if d, ok := e.Details.(TransitionDetail); ok && d.Reason == ReasonRole {
		return http.StatusForbidden
	}
	return e.Code.HTTPStatus()
}

// GetStatus lets HTTP frameworks read the status without knowing this type.
func (e *Error) GetStatus() int {
	return e.HTTPStatus()
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

// Sentinels for errors.Is.
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	ErrCatalogUnavailable = &Error{Code: CodeCatalogUnavailable, Message: "catalog unavailable"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "rate limited"}
	ErrNoMatch            = &Error{Code: CodeNoMatch, Message: "no matching game found in catalog"}
	ErrQuotaExceeded      = &Error{Code: CodeQuotaExceeded, Message: "request quota exceeded"}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrDuplicateRequest   = &Error{Code: CodeDuplicateRequest, Message: "already in library/already requested"}
	ErrChannelNotVerified = &Error{Code: CodeChannelNotVerified, Message: "notification channel has not passed a test delivery"}
)

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Newf creates an error of the given code with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps err with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

func NotFound(msg string) *Error      { return &Error{Code: CodeNotFound, Message: msg} }
func Validation(msg string) *Error    { return &Error{Code: CodeValidation, Message: msg} }
func Unauthorized(msg string) *Error  { return &Error{Code: CodeUnauthorized, Message: msg} }
func Forbidden(msg string) *Error     { return &Error{Code: CodeForbidden, Message: msg} }
func Conflict(msg string) *Error      { return &Error{Code: CodeConflict, Message: msg} }
func Internal(msg string) *Error      { return &Error{Code: CodeInternal, Message: msg} }
func AlreadyExists(msg string) *Error { return &Error{Code: CodeAlreadyExists, Message: msg} }

// ValidationWithDetails creates a validation error carrying per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Reasons carried by TransitionDetail.
const (
	ReasonState = "state"
	ReasonRole  = "forbidden"
)

// TransitionDetail says which guard refused a transition.
type TransitionDetail struct {
	Reason string `json:"reason"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// InvalidTransition reports a state or role guard violation.
func InvalidTransition(format string, args ...any) *Error {
	return Newf(CodeInvalidTransition, format, args...)
}

// IllegalTransition reports an edge the state machine does not allow.
func IllegalTransition(from, to string) *Error {
	return InvalidTransition("cannot change status from %s to %s", from, to).
		WithDetails(TransitionDetail{Reason: ReasonState, From: from, To: to})
}

// RoleForbidden reports an operation the caller's role may not perform.
func RoleForbidden(msg string) *Error {
	return (&Error{Code: CodeInvalidTransition, Message: msg}).
		WithDetails(TransitionDetail{Reason: ReasonRole})
}

// DuplicateRequest reports a game the user already has or has asked for.
func DuplicateRequest(msg string) *Error {
	return &Error{Code: CodeDuplicateRequest, Message: msg}
}

// QuotaExceeded reports that a user already holds max active requests.
func QuotaExceeded(active, limit int) *Error {
	return Newf(CodeQuotaExceeded, "request quota exceeded: %d of %d active requests", active, limit).
		WithDetails(map[string]int{"active": active, "limit": limit})
}
