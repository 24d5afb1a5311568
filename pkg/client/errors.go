package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrAuth is returned when the service rejects the credentials, either
	// at login or after the single refresh-retry of an authorized request.
	ErrAuth = errors.New("authorization rejected")

	// ErrNotFound is returned when the requested resource is unknown to the
	// service. Not retried.
	ErrNotFound = errors.New("resource not found")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassAuth represents 401/403 authorization failures.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNotFound represents 404/410 missing-resource errors.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassClient represents other 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a Dokumentlager error response with additional context.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dokumentlager %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("dokumentlager %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus categorizes an HTTP status code for retry decisions and
// observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrorClassNotFound
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// newStatusError builds an APIError for a non-2xx response. Auth and
// not-found classes carry their sentinel so callers can use errors.Is.
func newStatusError(endpoint string, status int) *APIError {
	class := classifyStatus(status)

	var base error
	switch class {
	case ErrorClassAuth:
		base = ErrAuth
	case ErrorClassNotFound:
		base = ErrNotFound
	}

	return &APIError{
		StatusCode: status,
		Class:      class,
		Endpoint:   endpoint,
		Message:    http.StatusText(status),
		Err:        base,
	}
}

// ClassOf returns the error class of err. Errors that are not APIErrors are
// assumed to come from the transport and classified as network errors.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// Auth failures follow the single refresh-retry rule instead of
		// backoff; not_found and other 4xx are permanent.
		return false
	}
}
