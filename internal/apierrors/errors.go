// Package apierrors provides shared error types for the directory and
// recovery-store HTTP clients.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingToken is returned when no bearer token is provided.
	ErrMissingToken = errors.New("bearer token is required")

	// ErrMissingBaseURL is returned when no base URL is configured.
	ErrMissingBaseURL = errors.New("base URL is required")

	// ErrUnauthorized is returned when the bearer token is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired token")

	// ErrForbidden is returned when the token may not act on the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrPublicKeyNotFound is returned when a user has no published key.
	ErrPublicKeyNotFound = errors.New("public key not found")

	// ErrRecoveryBlobNotFound is returned when the account has no backup.
	ErrRecoveryBlobNotFound = errors.New("recovery blob not found")

	// ErrRateLimited is returned when the server rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidResponse is returned when a 2xx body cannot be decoded or
	// fails validation.
	ErrInvalidResponse = errors.New("invalid response")
)

// ResourceType indicates which type of resource an error relates to.
type ResourceType string

const (
	// ResourceUnknown indicates the resource type is not specified.
	ResourceUnknown ResourceType = ""
	// ResourcePublicKey indicates the error relates to a directory entry.
	ResourcePublicKey ResourceType = "public_key"
	// ResourceRecoveryBlob indicates the error relates to a recovery blob.
	ResourceRecoveryBlob ResourceType = "recovery_blob"
)

// APIError represents an HTTP error response.
type APIError struct {
	StatusCode   int
	Message      string
	RequestID    string
	ResourceType ResourceType
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusNotFound:
		switch e.ResourceType {
		case ResourcePublicKey:
			return target == ErrPublicKeyNotFound
		case ResourceRecoveryBlob:
			return target == ErrRecoveryBlobNotFound
		default:
			return target == ErrPublicKeyNotFound || target == ErrRecoveryBlobNotFound
		}
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return false
}

// WithResourceType returns a copy of the error with the resource type set.
// If the error is not an *APIError, it is returned unchanged.
func WithResourceType(err error, rt ResourceType) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode:   apiErr.StatusCode,
			Message:      apiErr.Message,
			RequestID:    apiErr.RequestID,
			ResourceType: rt,
		}
	}
	return err
}

// NetworkError represents a network-level failure after all retries.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("network error after %d attempt(s) to %s: %v", e.Attempt, e.URL, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}
