// Package brokererr defines the typed error taxonomy the broker uses to
// translate internal failures into wire-level error payloads.
package brokererr

import (
	"errors"
	"time"
)

// Code is one of the wire-visible error codes from the error taxonomy.
type Code string

const (
	MalformedMessage     Code = "MALFORMED_MESSAGE"
	InvalidRequest       Code = "INVALID_REQUEST"
	InvalidRequestID     Code = "INVALID_REQUEST_ID"
	VersionNotSupported  Code = "VERSION_NOT_SUPPORTED"
	Unauthorized         Code = "UNAUTHORIZED"
	Forbidden            Code = "FORBIDDEN"
	TopicNotSupported    Code = "TOPIC_NOT_SUPPORTED"
	NoRouteFound         Code = "NO_ROUTE_FOUND"
	ServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	Timeout              Code = "TIMEOUT"
	InternalError        Code = "INTERNAL_ERROR"
)

// Error is a typed, wire-serializable broker error.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]any
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error that carries an underlying cause for logging,
// without exposing it on the wire (the wire message stays human-authored).
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches offending-field detail to the error and returns it,
// for chaining at the construction site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Payload renders the error into the {code, message, timestamp, details?}
// shape a RESPONSE payload's "error" key carries on the wire.
func (e *Error) Payload() map[string]any {
	p := map[string]any{
		"code":      string(e.Code),
		"message":   e.Message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(e.Details) > 0 {
		p["details"] = e.Details
	}
	return p
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}
