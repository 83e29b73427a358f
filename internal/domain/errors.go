package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it without string matching.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindSync              Kind = "sync"
	KindCache             Kind = "cache"
	KindSearchUnavailable Kind = "search_unavailable"
)

// Error is the typed failure returned by the catalog core.
// Reason is human readable and safe to surface to API clients.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same Kind, so the
// sentinels below work with errors.Is regardless of the Reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrSync              = &Error{Kind: KindSync}
	ErrCache             = &Error{Kind: KindCache}
	ErrSearchUnavailable = &Error{Kind: KindSearchUnavailable}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Forbiddenf(format string, args ...any) *Error {
	return newError(KindForbidden, nil, format, args...)
}

// SyncError wraps a search-index write failure.
func SyncError(err error, format string, args ...any) *Error {
	return newError(KindSync, err, format, args...)
}

// CacheError wraps a cache backend failure. It is never returned to API callers.
func CacheError(err error, format string, args ...any) *Error {
	return newError(KindCache, err, format, args...)
}

// SearchUnavailable wraps a query execution failure (unreachable index, timeout).
func SearchUnavailable(err error, format string, args ...any) *Error {
	return newError(KindSearchUnavailable, err, format, args...)
}

// KindOf returns the Kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
