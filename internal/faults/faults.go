// Package faults defines the error taxonomy of the function lifecycle.
// Every component reports failures as *Error so the router can render them
// without inspecting strings.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a lifecycle failure.
type Kind string

const (
	ParseError               Kind = "parse_error"
	SecurityViolation        Kind = "security_violation"
	PermissionDenied         Kind = "permission_denied"
	DependencyConflict       Kind = "dependency_conflict"
	DependencyInstallFailure Kind = "dependency_install_failure"
	TestExhausted            Kind = "test_exhausted"
	ExecutionTimeout         Kind = "execution_timeout"
	ExecutionRuntimeFault    Kind = "execution_runtime_fault"
	NotFound                 Kind = "not_found"
	Disabled                 Kind = "disabled"
	GenerationFailure        Kind = "generation_failure"
	Internal                 Kind = "internal"
)

// Error is a structured lifecycle failure.
type Error struct {
	Kind     Kind
	Function string
	Message  string
	Details  []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Function != "" {
		fmt.Fprintf(&b, " [%s]", e.Function)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error.
func New(kind Kind, function, message string, details ...string) *Error {
	return &Error{Kind: kind, Function: function, Message: message, Details: details}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, function string, err error, message string) *Error {
	return &Error{Kind: kind, Function: function, Message: message, Err: err}
}

// KindOf returns the Kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}
