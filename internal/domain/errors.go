package domain

import (
	"errors"
	"fmt"
	"time"
)

/**
 * CONTEXT:   Error taxonomy shared by every component of the policy daemon
 * INPUT:     Component-level failures (config, auth, store, probe, validation)
 * OUTPUT:    A small closed set of typed errors callers can match with errors.As
 * BUSINESS:  Component boundaries must translate failures into one of these kinds;
 *            nothing bubbles up as untyped text
 * CHANGE:    Initial taxonomy implementation
 * RISK:      Low - error types carry no behavior beyond classification
 */

// Kind enumerates the error taxonomy kinds.
type Kind string

const (
	KindConfig         Kind = "ConfigError"
	KindSchema         Kind = "SchemaError"
	KindCapability     Kind = "CapabilityError"
	KindAuth           Kind = "AuthError"
	KindThrottled      Kind = "Throttled"
	KindValidation     Kind = "ValidationError"
	KindState          Kind = "StateError"
	KindTransientStore Kind = "TransientStoreError"
	KindProbe          Kind = "ProbeError"
	KindInternal       Kind = "InternalError"
)

// Error is the common shape for every taxonomy error.
type Error struct {
	Kind       Kind
	Message    string
	Err        error
	RetryAfter time.Duration // set only for Throttled
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Message: msg, Err: wrapped}
}

func NewConfigError(msg string, err error) *Error     { return newErr(KindConfig, msg, err) }
func NewSchemaError(msg string, err error) *Error     { return newErr(KindSchema, msg, err) }
func NewCapabilityError(msg string, err error) *Error { return newErr(KindCapability, msg, err) }
func NewAuthError(msg string) *Error                  { return newErr(KindAuth, msg, nil) }
func NewValidationError(msg string) *Error            { return newErr(KindValidation, msg, nil) }
func NewStateError(msg string) *Error                 { return newErr(KindState, msg, nil) }
func NewProbeError(msg string, err error) *Error      { return newErr(KindProbe, msg, err) }
func NewInternalError(msg string, err error) *Error   { return newErr(KindInternal, msg, err) }

func NewTransientStoreError(msg string, err error) *Error {
	return newErr(KindTransientStore, msg, err)
}

// NewThrottled builds a rate-limit error carrying a retry-after hint.
func NewThrottled(retryAfter time.Duration) *Error {
	return &Error{Kind: KindThrottled, Message: "too many failed attempts", RetryAfter: retryAfter}
}

// KindOf reports the taxonomy kind of err, or KindInternal if err does not
// carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
