package crypto

import (
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives length bytes from secret using HKDF-SHA-512.
// An empty salt is replaced with a zero block of the hash size.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if length <= 0 || length > 255*sha512.Size {
		return nil, fmt.Errorf("invalid derived key length %d", length)
	}
	if len(salt) == 0 {
		salt = make([]byte, sha512.Size)
	}

	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha512.New, secret, salt, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}
