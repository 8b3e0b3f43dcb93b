package models

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AuthError reports an invalid or expired credential. It is never retried.
type AuthError struct {
	AccountNumber string
	StatusCode    int
	Err           error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for account %s (status %d): check the API key", e.AccountNumber, e.StatusCode)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError reports that the account or meter has no data for the
// requested window. Callers surface it as an empty result, not a failure.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no data found for %s", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RateLimitedError reports that the cooldown gate refused a permit.
// RetryAfter is the duration until the next permissible attempt.
type RateLimitedError struct {
	AccountNumber string
	RetryAfter    time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for account %s: retry after %s", e.AccountNumber, e.RetryAfter)
}

// TransportErrorKind classifies a transport failure.
type TransportErrorKind string

const (
	// TransportExhausted means every retry attempt failed on a transient
	// fault.
	TransportExhausted TransportErrorKind = "exhausted"
	// TransportPermanent means the remote service rejected the request in a
	// way retrying cannot fix.
	TransportPermanent TransportErrorKind = "permanent"
)

// TransportError reports a failed remote call, with the number of attempts
// that were made before giving up.
type TransportError struct {
	Kind       TransportErrorKind
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport %s after %d attempt(s): status %d", e.Kind, e.Attempts, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialFailure reports that one fuel of a dual-fuel request failed while
// the other succeeded. The failed fuel is named so no data is silently
// dropped.
type PartialFailure struct {
	Fuel FuelType
	Err  error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s fetch failed: %v", e.Fuel, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// RetryableStatus reports whether an HTTP status code signals a transient
// fault worth retrying.
func RetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
