package e2ee

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vaultsandbox/e2ee-go/internal/apierrors"
	"github.com/vaultsandbox/e2ee-go/internal/crypto"
	"github.com/vaultsandbox/e2ee-go/internal/envelope"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingAccount is returned when New is called without an account id.
	ErrMissingAccount = errors.New("account id is required")

	// ErrMissingDirectory is returned when no directory or recovery store is configured.
	ErrMissingDirectory = errors.New("directory and recovery store are required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrNoIdentity is returned by operations that need a keypair before
	// EnsureIdentity has succeeded.
	ErrNoIdentity = errors.New("no identity loaded")

	// ErrKeyMismatchRepaired marks a stored public key that did not match its
	// private key and was corrected. It is logged, never returned.
	ErrKeyMismatchRepaired = errors.New("stored public key mismatch repaired")

	// ErrDirectoryUnavailable is returned when the directory or recovery store
	// cannot be reached. It blocks sending, not reading.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrPeerNotFound is returned when a peer has no published public key.
	ErrPeerNotFound = errors.New("peer public key not found")

	// ErrDecryptFailed is returned when a message or attachment cannot be decrypted.
	ErrDecryptFailed = errors.New("can't decrypt")

	// ErrNotARecipient is returned when a group message or attachment carries
	// no key for the caller. It also matches ErrDecryptFailed.
	ErrNotARecipient = errors.New("not a recipient")

	// ErrWrongPassphrase is returned when a recovery blob does not open.
	ErrWrongPassphrase = crypto.ErrWrongPassphrase

	// ErrRecoveryBlobMissing reports that the account has no backup. Directory
	// implementations return it from GetRecoveryBlob.
	ErrRecoveryBlobMissing = errors.New("recovery blob missing")

	// ErrPublishFailed is returned when the public key could not be published.
	ErrPublishFailed = errors.New("public key publish failed")

	// ErrUnparseable is returned for bytes that are not a valid envelope.
	ErrUnparseable = envelope.ErrUnparseable

	// ErrRecoveryCancelled is returned when the user cancels recovery.
	ErrRecoveryCancelled = errors.New("recovery cancelled")

	// ErrPassphraseMismatch is returned when a new passphrase and its
	// confirmation differ.
	ErrPassphraseMismatch = errors.New("passphrase confirmation does not match")

	// ErrEmptyPassphrase is returned for an empty passphrase.
	ErrEmptyPassphrase = errors.New("passphrase is empty")

	// ErrUnauthorized is returned when the bearer token is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired token")

	// ErrRateLimited is returned when the server rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Error is implemented by all typed errors of this package.
type Error interface {
	error
	E2EEError() // marker method
}

// APIError represents an HTTP error from the directory or recovery store.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
	// Resource is "public_key", "recovery_blob" or empty.
	Resource string
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

// E2EEError implements the Error interface.
func (e *APIError) E2EEError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusNotFound:
		switch e.Resource {
		case string(apierrors.ResourcePublicKey):
			return target == ErrPeerNotFound
		case string(apierrors.ResourceRecoveryBlob):
			return target == ErrRecoveryBlobMissing
		}
		return false
	case http.StatusTooManyRequests:
		return target == ErrRateLimited || target == ErrDirectoryUnavailable
	}
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500 {
		return target == ErrDirectoryUnavailable
	}
	return false
}

// NetworkError represents a network-level failure after all retries.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *NetworkError) Is(target error) bool {
	return target == ErrDirectoryUnavailable
}

// E2EEError implements the Error interface.
func (e *NetworkError) E2EEError() {}

// DecryptError reports that a message or attachment could not be decrypted.
// The message never says which check failed; only not-a-recipient is
// distinguishable, through errors.Is(err, ErrNotARecipient).
type DecryptError struct {
	ID   string
	Kind string
	Err  error
}

func (e *DecryptError) Error() string {
	if e.notRecipient() {
		return fmt.Sprintf("decrypt %s %q: %v", e.Kind, e.ID, ErrNotARecipient)
	}
	return fmt.Sprintf("decrypt %s %q: %v", e.Kind, e.ID, ErrDecryptFailed)
}

func (e *DecryptError) notRecipient() bool {
	return errors.Is(e.Err, crypto.ErrNotRecipient)
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptError) Is(target error) bool {
	if target == ErrDecryptFailed {
		return true
	}
	return target == ErrNotARecipient && e.notRecipient()
}

// E2EEError implements the Error interface.
func (e *DecryptError) E2EEError() {}

// PublishError reports that a new or repaired public key did not reach the
// directory. The key is kept locally and published again by the next
// EnsureIdentity call.
type PublishError struct {
	Fingerprint string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish public key %s: %v", e.Fingerprint, e.Err)
}

// Unwrap returns the underlying error.
func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *PublishError) Is(target error) bool {
	return target == ErrPublishFailed
}

// E2EEError implements the Error interface.
func (e *PublishError) E2EEError() {}

// DirectoryError reports a failed directory or recovery-store operation.
type DirectoryError struct {
	Op  string
	Sub string
	Err error
}

func (e *DirectoryError) Error() string {
	if e.Sub != "" {
		return fmt.Sprintf("directory %s %q: %v", e.Op, e.Sub, e.Err)
	}
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// E2EEError implements the Error interface.
func (e *DirectoryError) E2EEError() {}

// wrapError converts internal API errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			RequestID:  apiErr.RequestID,
			Resource:   string(apiErr.ResourceType),
		}
	}

	var netErr *apierrors.NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{
			Err:     netErr.Err,
			URL:     netErr.URL,
			Attempt: netErr.Attempt,
		}
	}

	if errors.Is(err, apierrors.ErrInvalidResponse) {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	return err
}

// isBlobMissing reports whether err means the account has no backup.
func isBlobMissing(err error) bool {
	return errors.Is(err, ErrRecoveryBlobMissing) || errors.Is(err, apierrors.ErrRecoveryBlobNotFound)
}
