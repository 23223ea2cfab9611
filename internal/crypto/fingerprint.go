package crypto

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

const fingerprintSize = 16

// Fingerprint returns a short base58 identifier for a public key, safe to
// log and display for out-of-band comparison.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base58.Encode(sum[:fingerprintSize])
}

// SuggestPassphrase returns a random 12-word BIP-39 phrase suitable as a
// recovery passphrase.
func SuggestPassphrase() (string, error) {
	entropy, err := randomBytes(16)
	if err != nil {
		return "", err
	}
	defer zero(entropy)
	return bip39.NewMnemonic(entropy)
}
