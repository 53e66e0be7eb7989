package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for catalog API operations.
var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrRateLimited  = errors.New("catalog: rate limited")
	ErrUnavailable  = errors.New("catalog: service unavailable")
	ErrUnauthorized = errors.New("catalog: credentials rejected")
	ErrDecode       = errors.New("catalog: malformed response")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op    string // search, fetch, token
	Query string // search term, if applicable
	ID    int64  // catalog id, if applicable
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.ID != 0:
		return fmt.Sprintf("catalog %s [%d]: %v", e.Op, e.ID, e.Err)
	case e.Query != "":
		return fmt.Sprintf("catalog %s [%q]: %v", e.Op, e.Query, e.Err)
	default:
		return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, query string, id int64, err error) error {
	return &Error{Op: op, Query: query, ID: id, Err: err}
}

// statusError carries an unexpected upstream status and a bounded body excerpt.
type statusError struct {
	status int
	body   string
	kind   error
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("%v (status %d)", e.kind, e.status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.kind, e.status, e.body)
}

func (e *statusError) Unwrap() error {
	return e.kind
}

// errTransient marks server-side and network failures worth one retry.
var errTransient = errors.New("transient")

// transient reports whether a retry may succeed.
func transient(err error) bool {
	return errors.Is(err, errTransient)
}
