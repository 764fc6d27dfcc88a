package siteconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrSessionInvalid means the server rejected the presented token.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrNotFound means the requested user or site does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoSite means the connection has no site LUID to scope a request to.
	ErrNoSite = errors.New("connection has no site")
)

// APIError is a structured error response from the server. Callers can
// extract it with errors.As:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden { ... }
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Summary    string `json:"summary"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Summary)
	}
	return fmt.Sprintf("api error %s (%d): %s: %s", e.Code, e.StatusCode, e.Summary, e.Detail)
}

// Is maps 401 to ErrSessionInvalid and 404 to ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrSessionInvalid:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	default:
		return false
	}
}

// TransportError is returned when a request never produced a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient failure worth a single
// retry: a rejected token, a transport failure or timeout, or a 5xx/429
// response. Caller cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrSessionInvalid) {
		return true
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
