package network

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResponse is wrapped by every RequestError: the call produced no
	// usable response after all attempts.
	ErrNoResponse = errors.New("no response from remote service")

	// ErrInvalidProxy is returned when a proxy entry cannot be parsed.
	ErrInvalidProxy = errors.New("invalid proxy: expected host:port or http, https, socks5 url")

	// ErrTooManyRedirects is returned by the redirect policy of a session.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrTorNotRunning is returned when the embedded Tor daemon is used before Start.
	ErrTorNotRunning = errors.New("embedded Tor daemon is not running")
)

// FailureKind classifies why an attempt failed.
type FailureKind int

const (
	// FailureNone means the attempt succeeded.
	FailureNone FailureKind = iota
	// FailureEmptyBody is an HTTP 200 with an empty body.
	FailureEmptyBody
	// FailureBlocked is an HTTP 403.
	FailureBlocked
	// FailureHTTPStatus is any other non-200 status.
	FailureHTTPStatus
	// FailureTimeout is a request that exceeded its deadline.
	FailureTimeout
	// FailureConnection is a dial, reset or other transport error.
	FailureConnection
	// FailureTooManyRedirects is a redirect chain over the limit.
	FailureTooManyRedirects
	// FailureCanceled means the caller's context was canceled.
	FailureCanceled
)

// String returns the label used in logs and metrics.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureEmptyBody:
		return "empty_body"
	case FailureBlocked:
		return "blocked"
	case FailureHTTPStatus:
		return "http_status"
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	case FailureTooManyRedirects:
		return "too_many_redirects"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RenewsSession reports whether the failure calls for a new session
// rather than a plain retry on the same one. Blocked and empty responses
// point at a flagged user agent or proxy.
func (k FailureKind) RenewsSession() bool {
	return k == FailureBlocked || k == FailureEmptyBody
}

// RequestError is the definitive failure of a Client call.
type RequestError struct {
	// Kind is the failure kind of the last attempt.
	Kind FailureKind
	// Attempts is the number of attempts made.
	Attempts int
	// StatusCode is the HTTP status of the last attempt, 0 without response.
	StatusCode int
	// Err is the underlying error of the last attempt, if any.
	Err error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s after %d attempt(s): %s", ErrNoResponse, e.Attempts, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrNoResponse and the underlying error.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNoResponse}
	}
	return []error{ErrNoResponse, e.Err}
}
