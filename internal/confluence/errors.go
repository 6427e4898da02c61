package confluence

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies remote failures for the orchestrator.
type ErrorKind string

const (
	// KindAuth means credentials were rejected. Fatal for the whole run:
	// they will be rejected for every subsequent call too.
	KindAuth ErrorKind = "auth"
	// KindNotFound means the addressed resource does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited means the API throttled the request. Reported
	// per-action; retry policy is the caller's concern.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers network errors and 5xx responses.
	KindTransient ErrorKind = "transient"
)

// APIError is a classified remote failure.
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindTransient
	}
}

// Kind returns the classification of err, or "" if err is not an *APIError.
func Kind(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool { return Kind(err) == KindAuth }

// IsNotFound reports whether err addressed a missing resource.
func IsNotFound(err error) bool { return Kind(err) == KindNotFound }
