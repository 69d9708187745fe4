package types

import (
	"errors"
	"fmt"
)

// Machine-readable error codes carried on custom_error events.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidField     = "INVALID_FIELD"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeLookupFailed     = "LOOKUP_FAILED"
	CodeDeliveryFailed   = "DELIVERY_FAILED"
	CodeRateLimited      = "RATE_LIMITED"
)

// AuthenticationError rejects a connection attempt. Terminal for the
// attempt: the transport is never opened (or is closed) when it occurs.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ValidationError rejects a single inbound event; the connection survives.
// Code is sent back to the client on a custom_error event.
type ValidationError struct {
	Code  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s): field %q", e.Code, e.Field)
	}
	return fmt.Sprintf("validation failed (%s)", e.Code)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError with the given code and field.
func NewValidationError(code, field string) *ValidationError {
	return &ValidationError{Code: code, Field: field}
}

// LookupError means room/friend data was unavailable. Non-fatal: degrade
// gracefully and retry on the next relevant event.
type LookupError struct {
	Resource string
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup failed for %s: %v", e.Resource, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// PublishError means the event bus rejected a publish after bounded
// retries. Surfaced to the originating action as a delivery failure.
type PublishError struct {
	Subject  string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed after %d attempts: %v", e.Subject, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PresenceStoreError means a heartbeat or expiry subscription failed.
// Retried continuously; degrades presence accuracy but never crashes the
// gateway or drops connections.
type PresenceStoreError struct {
	Op  string
	Err error
}

func (e *PresenceStoreError) Error() string {
	return fmt.Sprintf("presence store %s failed: %v", e.Op, e.Err)
}

func (e *PresenceStoreError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsLookup reports whether err is (or wraps) a LookupError.
func IsLookup(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}
