package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// ToBase64URL encodes bytes to URL-safe base64 without padding.
func ToBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// FromBase64URL decodes URL-safe base64 without padding.
func FromBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// ToHex encodes bytes as lowercase hex.
func ToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// PublicKeyFromHex decodes and size-checks a hex public key.
func PublicKeyFromHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(b), PublicKeySize)
	}
	return b, nil
}

// PrivateKeyFromHex decodes and size-checks a hex private key.
func PrivateKeyFromHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex encoding", ErrInvalidPrivateKey)
	}
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(b), PrivateKeySize)
	}
	return b, nil
}

// decodeField decodes a base64url envelope field and checks its length.
// A negative size skips the length check.
func decodeField(name, value string, size int) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, name)
	}
	b, err := FromBase64URL(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64url", ErrInvalidEnvelope, name)
	}
	if size >= 0 && len(b) != size {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrInvalidEnvelope, name, len(b), size)
	}
	return b, nil
}

// decodeKeyField decodes a hex public key carried in an envelope.
func decodeKeyField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, name)
	}
	b, err := PublicKeyFromHex(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, name, err)
	}
	return b, nil
}
