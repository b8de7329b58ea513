package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when the retry loop finishes without
	// capturing a classified error.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrUnauthenticated is returned by token providers that cannot produce a token.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassAuth represents a failure to obtain credentials.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents non-retryable 4xx errors and unexpected
	// non-2xx statuses below 500 (1xx, unfollowed 3xx).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents the transient 4xx statuses (408, 429).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassExhausted represents a retry loop that ended without a classified error.
	ErrorClassExhausted ErrorClass = "exhausted"

	// ErrorClassCanceled represents a caller that gave up while the request was in flight.
	ErrorClassCanceled ErrorClass = "canceled"
)

// APIError is the classified error returned for every failed request.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string

	// Details holds the "details" member of a JSON error body, if any.
	Details json.RawMessage

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	status := "no status"
	if e.StatusCode != 0 {
		status = fmt.Sprintf("status %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("api %s error (%s): %s: %v", e.ErrorClass, status, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (%s): %s", e.ErrorClass, status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether no HTTP response was received.
func (e *APIError) IsNetworkError() bool {
	return e.ErrorClass == ErrorClassNetwork
}

// IsServerError reports whether the backend answered with a 5xx status.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// IsClientError reports whether the request itself was rejected.
func (e *APIError) IsClientError() bool {
	return e.ErrorClass == ErrorClassClient
}

// IsUnauthenticated reports whether credentials could not be established.
func (e *APIError) IsUnauthenticated() bool {
	return e.ErrorClass == ErrorClassAuth
}

// ShouldFallback reports whether a caller may serve previously cached data
// instead of surfacing err. Invalid requests and missing credentials never
// fall back: old data for a rejected request is misleading.
func ShouldFallback(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorClass {
	case ErrorClassNetwork, ErrorClassServer, ErrorClassRateLimit, ErrorClassExhausted:
		return true
	default:
		return false
	}
}

// ClassOf returns the class of err, or "" when err is not an APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// classifyStatus categorizes a non-2xx HTTP status.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status < http.StatusInternalServerError:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// errorBody is the JSON shape of backend error responses.
type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// newStatusError builds an APIError from a failed response body.
func newStatusError(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		ErrorClass: classifyStatus(status),
		Message:    fmt.Sprintf("HTTP error! status: %d", status),
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return apiErr
	}
	switch {
	case parsed.Error != "":
		apiErr.Message = parsed.Error
	case parsed.Message != "":
		apiErr.Message = parsed.Message
	}
	if len(parsed.Details) > 0 && string(parsed.Details) != "null" {
		apiErr.Details = parsed.Details
	}
	return apiErr
}
