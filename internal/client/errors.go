package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoSession      = errors.New("client: no active session")
	ErrCorruptSession = errors.New("client: stored session is unreadable")
	ErrUnauthorized   = errors.New("client: unauthorized")
	ErrForbidden      = errors.New("client: forbidden")
	ErrNotFound       = errors.New("client: not found")
	ErrStreamClosed   = errors.New("client: event stream closed")
)

// APIError is a non-2xx response from the members API.
type APIError struct {
	StatusCode int    `json:"-"`
	Label      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client: %d %s (%s)", e.StatusCode, e.Label, e.Code)
	}
	return fmt.Sprintf("client: %d %s", e.StatusCode, e.Label)
}

// Is lets callers match on the status class with the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
