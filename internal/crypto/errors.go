package crypto

import "errors"

var (
	// ErrInvalidPrivateKey is returned when a private key has the wrong size or encoding.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrInvalidPublicKey is returned when a public key has the wrong size or
	// encoding, or produces an all-zero shared secret.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrDecryptionFailed is returned when an AEAD tag does not verify.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotRecipient is returned when a group envelope carries no wrap for the caller.
	ErrNotRecipient = errors.New("not a recipient")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidEnvelope is returned when an envelope is structurally invalid.
	// This includes missing fields, bad encodings, and wrong field sizes.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrUnsupportedVersion is returned for envelope or blob versions this package does not know.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrSenderNotMember is returned when the group member list omits the sender.
	ErrSenderNotMember = errors.New("sender is not in the member list")

	// ErrDuplicateMember is returned when the same member id appears twice.
	ErrDuplicateMember = errors.New("duplicate group member")

	// ErrInvalidMember is returned for a member with an empty id or bad key.
	ErrInvalidMember = errors.New("invalid group member")

	// ErrWrongPassphrase is returned when a recovery blob fails to open.
	// A corrupted blob produces the same error.
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrInvalidRecoveryBlob is returned when a recovery blob is structurally invalid
	// or carries KDF parameters outside the accepted bounds.
	ErrInvalidRecoveryBlob = errors.New("invalid recovery blob")

	// ErrEmptyPassword is returned when hashing or wrapping with an empty secret.
	ErrEmptyPassword = errors.New("empty password")
)
