// Package graph is a small Microsoft Graph client for writing files into a
// user's OneDrive app folder. Each call is a single attempt; failures are
// classified into sentinel errors so callers can tell a revoked grant from a
// transient outage.
package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrTooLarge     = errors.New("graph: payload too large")
	ErrThrottled    = errors.New("graph: throttled")
	ErrInsufficient = errors.New("graph: insufficient storage")
	ErrServerError  = errors.New("graph: server error")

	// ErrSessionRefused marks a 401 or 403 from a pre-authenticated upload
	// session URL. The session expired or was canceled; the caller's access
	// token was not involved.
	ErrSessionRefused = errors.New("graph: upload session refused")
)

// GraphError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type GraphError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *GraphError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err means the access token was refused,
// i.e. the grant behind it is invalid or revoked.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusInsufficientStorage:
		return ErrInsufficient
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
