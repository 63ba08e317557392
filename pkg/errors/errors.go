// Package errors provides the sentinel error type used across the catalog
// engine. It behaves like the standard library errors, with a Wrap method so
// a sentinel such as status.ErrIntegrity can carry the underlying cause
// without losing its identity for errors.Is checks.
package errors

import (
	stderr "errors"
	"fmt"
)

var _ error = New("")

// New builds a wrappable error from a message
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is an error with an optional nested cause.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap the nested cause, if any
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap returns a copy of this error with a nested cause. The receiver is not
// modified, so package-level sentinels stay pristine.
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err}
}

// WrapMsg returns a copy of this error with an additional formatted message
// as the nested cause.
func (e *Error) WrapMsg(format string, args ...interface{}) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

// Is reports a match against the original sentinel
func (e *Error) Is(target error) bool {
	if e == target {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.msg == e.msg && t.err == nil
}

// As is a shortcut to the standard library errors.As
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is is a shortcut to the standard library errors.Is
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
