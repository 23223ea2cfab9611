package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Channel password hashes are stored as
// "scrypt$N$r$p$saltHex$hashHex".
const (
	passwordAlgorithm = "scrypt"
	passwordSaltSize  = 16
	passwordHashSize  = 32

	// DefaultPasswordN is the default scrypt cost for channel passwords.
	DefaultPasswordN = 1 << 14
	DefaultPasswordR = 8
	DefaultPasswordP = 1
)

// HashPassword hashes a channel password with the default scrypt cost.
func HashPassword(password string) (string, error) {
	return HashPasswordWithParams(password, DefaultPasswordN, DefaultPasswordR, DefaultPasswordP)
}

// HashPasswordWithParams hashes a channel password with explicit scrypt parameters.
func HashPasswordWithParams(password string, n, r, p int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if err := validateScrypt(n, r, p); err != nil {
		return "", fmt.Errorf("invalid password hash parameters: %w", err)
	}

	salt, err := randomBytes(passwordSaltSize)
	if err != nil {
		return "", err
	}
	hash, err := scrypt.Key([]byte(password), salt, n, r, p, passwordHashSize)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return strings.Join([]string{
		passwordAlgorithm,
		strconv.Itoa(n),
		strconv.Itoa(r),
		strconv.Itoa(p),
		hex.EncodeToString(salt),
		hex.EncodeToString(hash),
	}, "$"), nil
}

// VerifyPassword recomputes the hash with the stored parameters and compares
// in constant time. Malformed stored strings verify as false.
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != passwordAlgorithm {
		return false
	}

	n, err1 := strconv.Atoi(parts[1])
	r, err2 := strconv.Atoi(parts[2])
	p, err3 := strconv.Atoi(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	if validateScrypt(n, r, p) != nil {
		return false
	}

	salt, err := hex.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := hex.DecodeString(parts[5])
	if err != nil || len(want) < 16 || len(want) > 64 {
		return false
	}

	got, err := scrypt.Key([]byte(password), salt, n, r, p, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}
