// Package apperr defines the error taxonomy shared across the daemon and
// its mapping onto JSON-RPC 2.0 error codes. Components return *Error (or a
// wrapped standard error) and the RPC Router is the only place that turns
// one into a wire response.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for both logging and wire-code mapping.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "backend_unavailable"
	KindInvariant   Kind = "invariant_violation"
	KindInternal    Kind = "internal"
)

// Error is the typed error every component-level operation should return
// for an expected failure mode. Unexpected failures may be wrapped with
// Internal.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation wraps a bad-params or bad-config failure.
func Validation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound names the missing entity kind and ID.
func NotFound(entity, id string) *Error {
	return newErr(KindNotFound, fmt.Sprintf("%s %q not found", entity, id))
}

// Unavailable wraps a runtime-adapter or other backend failure.
func Unavailable(format string, args ...interface{}) *Error {
	return newErr(KindUnavailable, fmt.Sprintf(format, args...))
}

// Invariant reports a would-be invariant violation; the caller must not
// have mutated state before returning this.
func Invariant(format string, args ...interface{}) *Error {
	return newErr(KindInvariant, fmt.Sprintf(format, args...))
}

// Internal wraps an unexpected error with Kind=Internal, preserving the
// original for logging via Unwrap.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that are not *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// JSON-RPC 2.0 standard error codes (see https://www.jsonrpc.org/specification).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeServerError is the daemon's single catch-all application error
	// code for Not-found, Unavailable, Invariant, and Internal kinds; the
	// JSON-RPC spec reserves -32000..-32099 for implementation-defined
	// server errors and the daemon does not further subdivide that range.
	CodeServerError = -32000
)

// RPCCode maps an error to the JSON-RPC code the router should send on the
// wire. Validation errors that originate from request shape should instead
// be reported directly with CodeInvalidRequest/CodeInvalidParams by the
// router before a handler is ever invoked; this mapping covers errors
// returned by handlers themselves.
func RPCCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return CodeInvalidParams
	default:
		return CodeServerError
	}
}
