// Package cperrors is the structured error type used by the index
// coordinator and the lexical and structural stores. Every error
// serialized in the Query API's error envelope is a *Error; Envelope
// wraps any other error as an Internal one.
package cperrors

import "fmt"

// Kind is the engine's error taxonomy, matching the Query API's
// error(kind, message, ...) envelope one-to-one.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindDiscovery        Kind = "discovery"
	KindParse            Kind = "parse"
	KindIndexConsistency Kind = "index_consistency"
	KindConcurrency      Kind = "concurrency"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
)

// Error is the engine's structured error type. It implements error,
// Unwrap, and Is so errors.Is/errors.As work across component
// boundaries.
type Error struct {
	Code        string
	Kind        Kind
	Message     string
	Details     map[string]string
	Cause       error
	Retryable   bool
	Remediation string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail attaches a key-value detail and returns the error for
// chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRemediation attaches an actionable remediation hint.
func (e *Error) WithRemediation(remediation string) *Error {
	e.Remediation = remediation
	return e
}

// WithRetryable overrides the default retryability derived from kind.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// New creates an Error of the given kind. Retryability is derived from
// kind unless overridden with WithRetryable.
func New(kind Kind, code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: defaultRetryable(kind),
	}
}

func defaultRetryable(kind Kind) bool {
	return kind == KindConcurrency
}

// Configuration wraps a configuration-layer error (missing/invalid
// config, bad CLI flags).
func Configuration(code, message string, cause error) *Error {
	return New(KindConfiguration, code, message, cause)
}

// Discovery wraps an error from filesystem walking, symlink resolution,
// or Context detection.
func Discovery(code, message string, cause error) *Error {
	return New(KindDiscovery, code, message, cause)
}

// Parse wraps a parser failure. Parse errors never abort a reindex;
// they degrade the affected file to lexical-only.
func Parse(code, message string, cause error) *Error {
	return New(KindParse, code, message, cause)
}

// IndexConsistency wraps a violation of the lexical/structural agreement
// invariant or a failed epoch publication.
func IndexConsistency(code, message string, cause error) *Error {
	return New(KindIndexConsistency, code, message, cause)
}

// Concurrency wraps a lock-contention or busy-retry-exhausted error.
// Concurrency errors are retryable by default.
func Concurrency(code, message string, cause error) *Error {
	return New(KindConcurrency, code, message, cause)
}

// NotFound wraps a lookup miss (unknown file, symbol, or epoch).
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message, nil)
}

// InvalidInput wraps a malformed Query API request.
func InvalidInput(code, message string) *Error {
	return New(KindInvalidInput, code, message, nil)
}

// Cancelled wraps a context-cancellation/timeout error.
func Cancelled(code, message string, cause error) *Error {
	return New(KindCancelled, code, message, cause)
}

// Internal wraps an error the engine cannot attribute to any of the
// above (a bug, an unexpected invariant violation).
func Internal(code, message string, cause error) *Error {
	return New(KindInternal, code, message, cause)
}

// IsRetryable reports whether err is an *Error with Retryable set.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
