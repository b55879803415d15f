// Package httpdriver implements remotefs.Driver over a generic JSON REST
// API, with OAuth2 authentication and retry/backoff on transient failures.
//
// Grounded on the teacher's internal/graph package: client.go's retry loop
// and backoff constants, errors.go's status-to-sentinel classification,
// items.go/delta.go's pagination shape, and auth.go's OAuth2 token
// lifecycle — all generalized away from Microsoft Graph's specific JSON
// schema to the vendor-neutral remotefs.Entry/Page shape, since spec.md
// treats the cloud driver as a pluggable black box rather than a
// OneDrive-specific client.
package httpdriver

import (
	"errors"
	"fmt"
)

// Sentinel errors classified from HTTP status codes, mirroring the
// teacher's graph.Err* family (internal/graph/errors.go).
var (
	ErrBadRequest    = errors.New("httpdriver: bad request")
	ErrUnauthorized  = errors.New("httpdriver: unauthorized")
	ErrForbidden     = errors.New("httpdriver: forbidden")
	ErrNotFound      = errors.New("httpdriver: not found")
	ErrConflict      = errors.New("httpdriver: conflict")
	ErrGone          = errors.New("httpdriver: gone")
	ErrThrottled     = errors.New("httpdriver: throttled")
	ErrServerError   = errors.New("httpdriver: server error")
	ErrCursorExpired = errors.New("httpdriver: delta cursor expired")
)

// Error wraps a failed HTTP call with its status code and the server's
// message, mirroring the teacher's graph.GraphError.
type Error struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("httpdriver: status %d (request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("httpdriver: status %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error, mirroring
// the teacher's graph.classifyStatus.
func classifyStatus(code int) error {
	switch {
	case code == 400:
		return ErrBadRequest
	case code == 401:
		return ErrUnauthorized
	case code == 403:
		return ErrForbidden
	case code == 404:
		return ErrNotFound
	case code == 409:
		return ErrConflict
	case code == 410:
		return ErrGone
	case code == 429:
		return ErrThrottled
	case code >= 500:
		return ErrServerError
	default:
		return fmt.Errorf("httpdriver: unexpected status %d", code)
	}
}

// isRetryable reports whether a status code warrants a retry with backoff,
// mirroring the teacher's graph.isRetryable (408, 429, 500, 502, 503, 504).
func isRetryable(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func terminalError(statusCode int, requestID, message string) error {
	return &Error{StatusCode: statusCode, RequestID: requestID, Message: message, Err: classifyStatus(statusCode)}
}
