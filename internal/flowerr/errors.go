// Package flowerr provides the structured error taxonomy shared by every
// flowguard component: a closed set of error kinds (never string-based
// dispatch) plus a context-carrying error type.
package flowerr

import (
	"fmt"
	"time"
)

// Kind identifies a category of failure from the taxonomy in spec §7.
type Kind string

// Error implements the error interface so a bare Kind can be compared with
// errors.Is against a wrapped *Error.
func (k Kind) Error() string { return string(k) }

const (
	Validation          Kind = "validation"
	NoIdentifier        Kind = "no_identifier"
	Limited             Kind = "limited"
	InvalidCost         Kind = "invalid_cost"
	ConcurrencyTimeout  Kind = "concurrency_timeout"
	CircuitOpen         Kind = "circuit_open"
	HalfOpenExhausted   Kind = "half_open_exhausted"
	ServiceUnavailable  Kind = "service_unavailable"
	LoadTimeout         Kind = "load_timeout"
	LoadCancelled       Kind = "load_cancelled"
	LimiterInternal     Kind = "limiter_internal"
	StorageUnavailable  Kind = "storage_unavailable"
	StorageQueryFailed  Kind = "storage_query_failed"
	StorageTimeout      Kind = "storage_timeout"
	StorageNotFound     Kind = "storage_not_found"
	ConfigInvalid       Kind = "config_invalid"
)

// Component names the subsystem an error originated in, mirroring the
// teacher's ErrorSource.
type Component string

const (
	ComponentLimiter   Component = "limiter"
	ComponentCache     Component = "cache"
	ComponentBan       Component = "ban"
	ComponentCircuit   Component = "circuit_breaker"
	ComponentFallback  Component = "fallback"
	ComponentRules     Component = "rules"
	ComponentChain     Component = "decision_chain"
	ComponentGovernor  Component = "governor"
	ComponentQuota     Component = "quota"
	ComponentStorage   Component = "storage"
	ComponentConfig    Component = "config"
)

// Error is the structured error type returned by every flowguard component.
type Error struct {
	Kind      Kind
	Message   string
	Component Component
	Cause     error
	Fields    map[string]string
	At        time.Time
}

// New creates a new Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Fields:  make(map[string]string),
		At:      time.Now(),
	}
}

// WithComponent sets the originating component.
func (e *Error) WithComponent(c Component) *Error {
	e.Component = c
	return e
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithField attaches a single detail field. Callers must pre-redact PII
// (see internal/redact) before calling this on identifier values.
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Component, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to traverse to the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the same Kind, allowing
// errors.Is(err, flowerr.Limited)-style checks.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}
