// Package errors provides error handling for contexd.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors for the context broker core.
// Wrap these with errors.Wrap() to add context while preserving the kind;
// check with errors.Is().
var (
	// ErrNotFound indicates the requested entity, type or subscription
	// does not exist.
	ErrNotFound = New("not found")

	// ErrAlreadyExists indicates a duplicate id on create or appendStrict.
	ErrAlreadyExists = New("already exists")

	// ErrBadRequest indicates a malformed body, a missing required field
	// or an invalid batch action type.
	ErrBadRequest = New("bad request")

	// ErrInvalidExpression indicates a malformed filter expression. It is
	// a subtype of ErrBadRequest: IsBadRequest reports true for it.
	ErrInvalidExpression = Wrap(ErrBadRequest, "invalid expression")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is or wraps ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return err != nil && Is(err, ErrAlreadyExists)
}

// IsBadRequest checks if an error is or wraps ErrBadRequest. Invalid
// expressions count as bad requests.
func IsBadRequest(err error) bool {
	return err != nil && Is(err, ErrBadRequest)
}

// IsInvalidExpression checks if an error is or wraps ErrInvalidExpression.
func IsInvalidExpression(err error) bool {
	return err != nil && Is(err, ErrInvalidExpression)
}

// NotFoundf creates a not-found error with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// AlreadyExistsf creates an already-exists error with a formatted message.
func AlreadyExistsf(format string, args ...interface{}) error {
	return Wrap(ErrAlreadyExists, Newf(format, args...).Error())
}

// BadRequestf creates a bad-request error with a formatted message.
func BadRequestf(format string, args ...interface{}) error {
	return Wrap(ErrBadRequest, Newf(format, args...).Error())
}

// InvalidExpressionf creates an invalid-expression error with a formatted
// message.
func InvalidExpressionf(format string, args ...interface{}) error {
	return Wrap(ErrInvalidExpression, Newf(format, args...).Error())
}
