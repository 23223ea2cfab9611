package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "status code only",
			err:      &APIError{StatusCode: 500},
			expected: "API error 500",
		},
		{
			name:     "with message",
			err:      &APIError{StatusCode: 400, Message: "bad request"},
			expected: "API error 400: bad request",
		},
		{
			name:     "with request ID",
			err:      &APIError{StatusCode: 500, RequestID: "req-123"},
			expected: "API error 500 (request_id: req-123)",
		},
		{
			name:     "with message and request ID",
			err:      &APIError{StatusCode: 503, Message: "service unavailable", RequestID: "req-456"},
			expected: "API error 503: service unavailable (request_id: req-456)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		target   error
		expected bool
	}{
		{"401 unauthorized", &APIError{StatusCode: 401}, ErrUnauthorized, true},
		{"403 forbidden", &APIError{StatusCode: 403}, ErrForbidden, true},
		{"404 public key", &APIError{StatusCode: 404, ResourceType: ResourcePublicKey}, ErrPublicKeyNotFound, true},
		{"404 public key is not blob", &APIError{StatusCode: 404, ResourceType: ResourcePublicKey}, ErrRecoveryBlobNotFound, false},
		{"404 blob", &APIError{StatusCode: 404, ResourceType: ResourceRecoveryBlob}, ErrRecoveryBlobNotFound, true},
		{"404 unknown matches key", &APIError{StatusCode: 404}, ErrPublicKeyNotFound, true},
		{"404 unknown matches blob", &APIError{StatusCode: 404}, ErrRecoveryBlobNotFound, true},
		{"429 rate limited", &APIError{StatusCode: 429}, ErrRateLimited, true},
		{"500 matches nothing", &APIError{StatusCode: 500}, ErrUnauthorized, false},
		{"401 is not rate limited", &APIError{StatusCode: 401}, ErrRateLimited, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("errors.Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWithResourceType(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", &APIError{StatusCode: 404, RequestID: "r1"})

	got := WithResourceType(wrapped, ResourceRecoveryBlob)
	var apiErr *APIError
	if !errors.As(got, &apiErr) {
		t.Fatalf("WithResourceType() = %T, want *APIError", got)
	}
	if apiErr.ResourceType != ResourceRecoveryBlob || apiErr.RequestID != "r1" {
		t.Errorf("WithResourceType() = %+v", apiErr)
	}
	if errors.Is(got, ErrPublicKeyNotFound) {
		t.Error("typed 404 should not match ErrPublicKeyNotFound")
	}

	plain := errors.New("boom")
	if WithResourceType(plain, ResourcePublicKey) != plain {
		t.Error("non-API errors should be returned unchanged")
	}
	if WithResourceType(nil, ResourcePublicKey) != nil {
		t.Error("nil should stay nil")
	}
}

func TestNetworkError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Err: inner, URL: "https://dir.example/v1", Attempt: 4}

	if !errors.Is(err, inner) {
		t.Error("NetworkError should unwrap to the inner error")
	}
	want := "network error after 4 attempt(s) to https://dir.example/v1: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
