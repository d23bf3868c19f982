package provider

import (
	"errors"
	"fmt"
)

// LoadingError reports that the provider is still loading the model (HTTP 503).
type LoadingError struct {
	// EstimatedTime is the provider-supplied seconds remaining, 0 when absent.
	EstimatedTime float64
}

func (e *LoadingError) Error() string {
	if e.EstimatedTime > 0 {
		return fmt.Sprintf("model is loading (estimated %.0fs)", e.EstimatedTime)
	}
	return "model is loading"
}

// authError reports a rejected or missing credential.
type authError struct{ status int }

func (e authError) Error() string { return "Invalid User Access Token" }

func (e authError) StatusCode() int { return e.status }

// ErrAuth constructs an authentication error for HTTP status code.
func ErrAuth(status int) error { return authError{status: status} }

// HTTPError is any other non-2xx provider response.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Model unavailable (%d)", e.Code)
}

func (e *HTTPError) StatusCode() int { return e.Code }

// IsLoading reports whether err is (or wraps) a LoadingError.
func IsLoading(err error) bool {
	var le *LoadingError
	return errors.As(err, &le)
}

// IsAuth reports whether err is (or wraps) an authentication failure.
func IsAuth(err error) bool {
	var ae authError
	return errors.As(err, &ae)
}
