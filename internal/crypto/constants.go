package crypto

const (
	// DMContext is the HKDF info string for pairwise message keys.
	DMContext = "e2ee:dm:v1"
	// GroupWrapContext is the HKDF info string for per-member content key wraps.
	GroupWrapContext = "e2ee:group-wrap:v1"
	// MediaWrapContext is the HKDF info string for attachment content key wraps.
	MediaWrapContext = "e2ee:media-wrap:v1"
	// RecoveryContext is mixed into the recovery AEAD associated data.
	RecoveryContext = "e2ee:recovery:v1"

	// EnvelopeVersion is the only envelope version this package produces or accepts.
	EnvelopeVersion = 1
	// RecoveryVersion is the current recovery blob format version.
	RecoveryVersion = 1

	// PrivateKeySize is the size of an X25519 private scalar in bytes.
	PrivateKeySize = 32
	// PublicKeySize is the size of an X25519 public key in bytes.
	PublicKeySize = 32

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// ContentKeySize is the size of a per-message or per-attachment content key.
	ContentKeySize = AESKeySize

	// RecoverySaltSize is the size of the random per-blob KDF salt.
	RecoverySaltSize = 16
)
