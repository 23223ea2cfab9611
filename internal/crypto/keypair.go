package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
)

// randReader is the random source used for key, nonce and salt generation.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

func random() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(random(), b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// KeyPair is a long-term X25519 identity keypair.
type KeyPair struct {
	// PrivateKey is the raw 32-byte scalar.
	PrivateKey []byte
	// PublicKey is the raw 32-byte point derived from PrivateKey.
	PublicKey []byte
}

// GenerateKeyPair creates a new X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := randomBytes(PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return KeyPairFromPrivateKey(priv)
}

// KeyPairFromPrivateKey rebuilds a keypair by deriving the public key.
func KeyPairFromPrivateKey(privateKey []byte) (*KeyPair, error) {
	pub, err := DerivePublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	priv := make([]byte, PrivateKeySize)
	copy(priv, privateKey)
	return &KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// DerivePublicKey computes the public key for a private scalar.
func DerivePublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(privateKey), PrivateKeySize)
	}

	var secret, public x25519.Key
	copy(secret[:], privateKey)
	x25519.KeyGen(&public, &secret)

	out := make([]byte, PublicKeySize)
	copy(out, public[:])
	return out, nil
}

// Consistent reports whether PublicKey equals the key derived from PrivateKey.
func (k *KeyPair) Consistent() bool {
	if k == nil {
		return false
	}
	derived, err := DerivePublicKey(k.PrivateKey)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, k.PublicKey) == 1
}

// PublicKeyHex returns the public key as lowercase hex.
func (k *KeyPair) PublicKeyHex() string {
	return ToHex(k.PublicKey)
}

// PrivateKeyHex returns the private key as lowercase hex.
func (k *KeyPair) PrivateKeyHex() string {
	return ToHex(k.PrivateKey)
}

// Clone returns a deep copy of the keypair.
func (k *KeyPair) Clone() *KeyPair {
	if k == nil {
		return nil
	}
	return &KeyPair{
		PrivateKey: bytes.Clone(k.PrivateKey),
		PublicKey:  bytes.Clone(k.PublicKey),
	}
}

// Wipe overwrites the private key in place.
func (k *KeyPair) Wipe() {
	if k == nil {
		return
	}
	zero(k.PrivateKey)
}

// sharedSecret performs X25519 between a private scalar and a peer public key.
// A low-order peer key yields ErrInvalidPublicKey.
func sharedSecret(privateKey, peerPublicKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(privateKey), PrivateKeySize)
	}
	if len(peerPublicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(peerPublicKey), PublicKeySize)
	}

	var secret, public, shared x25519.Key
	copy(secret[:], privateKey)
	copy(public[:], peerPublicKey)
	if !x25519.Shared(&shared, &secret, &public) {
		return nil, fmt.Errorf("%w: low-order point", ErrInvalidPublicKey)
	}

	out := make([]byte, len(shared))
	copy(out, shared[:])
	return out, nil
}

// deriveWrapKey turns an ECDH result into an AES key bound to a context string.
func deriveWrapKey(privateKey, peerPublicKey []byte, context string) ([]byte, error) {
	shared, err := sharedSecret(privateKey, peerPublicKey)
	if err != nil {
		return nil, err
	}
	defer zero(shared)
	return DeriveKey(shared, nil, []byte(context), AESKeySize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
