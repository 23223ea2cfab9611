package crypto

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Supported recovery KDFs.
const (
	KDFScrypt   = "scrypt"
	KDFArgon2id = "argon2id"
)

// Bounds for persisted KDF parameters. Restore rejects anything outside
// them so a hostile blob cannot demand unbounded work or memory.
const (
	minScryptLogN = 10
	maxScryptLogN = 20
	maxScryptR    = 32
	maxScryptP    = 4
	// scrypt allocates 128*N*r bytes.
	maxScryptMemory = 256 << 20

	maxArgonTime      = 16
	minArgonMemoryKiB = 8 * 1024
	maxArgonMemoryKiB = 256 * 1024
	maxArgonThreads   = 16
)

// KDFParams are the passphrase KDF settings stored with a recovery blob.
// Only the fields of the named KDF are set.
type KDFParams struct {
	Name string `json:"name"`

	N int `json:"N,omitempty"`
	R int `json:"r,omitempty"`
	P int `json:"p,omitempty"`

	Time      uint32 `json:"time,omitempty"`
	MemoryKiB uint32 `json:"memoryKiB,omitempty"`
	Threads   uint8  `json:"threads,omitempty"`
}

// DefaultScryptParams returns the default recovery KDF settings.
func DefaultScryptParams() KDFParams {
	return KDFParams{Name: KDFScrypt, N: 1 << 15, R: 8, P: 1}
}

// DefaultArgon2idParams returns argon2id settings matching RFC 9106's
// second recommended option.
func DefaultArgon2idParams() KDFParams {
	return KDFParams{Name: KDFArgon2id, Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate checks the parameters against the accepted bounds.
func (p KDFParams) Validate() error {
	switch p.Name {
	case KDFScrypt:
		if err := validateScrypt(p.N, p.R, p.P); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecoveryBlob, err)
		}
	case KDFArgon2id:
		if p.Time < 1 || p.Time > maxArgonTime {
			return fmt.Errorf("%w: argon2id time=%d out of range", ErrInvalidRecoveryBlob, p.Time)
		}
		if p.MemoryKiB < minArgonMemoryKiB || p.MemoryKiB > maxArgonMemoryKiB {
			return fmt.Errorf("%w: argon2id memory=%dKiB out of range", ErrInvalidRecoveryBlob, p.MemoryKiB)
		}
		if p.Threads < 1 || p.Threads > maxArgonThreads {
			return fmt.Errorf("%w: argon2id threads=%d out of range", ErrInvalidRecoveryBlob, p.Threads)
		}
	default:
		return fmt.Errorf("%w: unknown kdf %q", ErrInvalidRecoveryBlob, p.Name)
	}
	return nil
}

func validateScrypt(n, r, p int) error {
	if n <= 1 || bits.OnesCount(uint(n)) != 1 {
		return errors.New("scrypt N must be a power of two")
	}
	logN := bits.Len(uint(n)) - 1
	if logN < minScryptLogN || logN > maxScryptLogN {
		return fmt.Errorf("scrypt N=2^%d out of range", logN)
	}
	if r < 1 || r > maxScryptR || p < 1 || p > maxScryptP {
		return fmt.Errorf("scrypt r=%d p=%d out of range", r, p)
	}
	if uint64(128)*uint64(n)*uint64(r) > maxScryptMemory {
		return fmt.Errorf("scrypt N=2^%d r=%d needs more than %d MiB", logN, r, maxScryptMemory>>20)
	}
	return nil
}

// String renders the parameters canonically. It is bound into the AEAD
// associated data so parameters cannot be swapped under a blob.
func (p KDFParams) String() string {
	switch p.Name {
	case KDFScrypt:
		return KDFScrypt + "$" + strconv.Itoa(p.N) + "$" + strconv.Itoa(p.R) + "$" + strconv.Itoa(p.P)
	case KDFArgon2id:
		return fmt.Sprintf("%s$%d$%d$%d", KDFArgon2id, p.Time, p.MemoryKiB, p.Threads)
	default:
		return p.Name
	}
}

func (p KDFParams) derive(passphrase string, salt []byte) ([]byte, error) {
	switch p.Name {
	case KDFScrypt:
		return scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
	case KDFArgon2id:
		return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize), nil
	default:
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrInvalidRecoveryBlob, p.Name)
	}
}

// RecoveryBlob is a passphrase-wrapped private key. It never contains
// plaintext key material.
type RecoveryBlob struct {
	V                 int       `json:"v"`
	KDF               KDFParams `json:"kdf"`
	Salt              string    `json:"salt"`
	Nonce             string    `json:"nonce"`
	WrappedPrivateKey string    `json:"wrappedPrivateKey"`
}

// Validate checks the blob structure without attempting to open it.
func (b *RecoveryBlob) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil blob", ErrInvalidRecoveryBlob)
	}
	if b.V != RecoveryVersion {
		return fmt.Errorf("%w: recovery version %d", ErrUnsupportedVersion, b.V)
	}
	if err := b.KDF.Validate(); err != nil {
		return err
	}
	if _, err := b.fields(); err != nil {
		return err
	}
	return nil
}

type blobFields struct {
	salt, nonce, wrapped []byte
}

func (b *RecoveryBlob) fields() (*blobFields, error) {
	salt, err := FromBase64URL(b.Salt)
	if err != nil || len(salt) != RecoverySaltSize {
		return nil, fmt.Errorf("%w: bad salt", ErrInvalidRecoveryBlob)
	}
	nonce, err := FromBase64URL(b.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("%w: bad nonce", ErrInvalidRecoveryBlob)
	}
	wrapped, err := FromBase64URL(b.WrappedPrivateKey)
	if err != nil || len(wrapped) != PrivateKeySize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: bad wrapped key", ErrInvalidRecoveryBlob)
	}
	return &blobFields{salt: salt, nonce: nonce, wrapped: wrapped}, nil
}

func recoveryAAD(params KDFParams) []byte {
	return []byte(RecoveryContext + "$" + params.String())
}

// CreateRecoveryBlob wraps privateKey under a key derived from passphrase.
func CreateRecoveryBlob(privateKey []byte, passphrase string, params KDFParams) (*RecoveryBlob, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(privateKey), PrivateKeySize)
	}
	if passphrase == "" {
		return nil, ErrEmptyPassword
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	salt, err := randomBytes(RecoverySaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(chacha20poly1305.NonceSize)
	if err != nil {
		return nil, err
	}

	key, err := params.derive(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &RecoveryBlob{
		V:                 RecoveryVersion,
		KDF:               params,
		Salt:              ToBase64URL(salt),
		Nonce:             ToBase64URL(nonce),
		WrappedPrivateKey: ToBase64URL(aead.Seal(nil, nonce, privateKey, recoveryAAD(params))),
	}, nil
}

// RestoreRecoveryBlob unwraps the private key. A failed tag check returns
// ErrWrongPassphrase whether the passphrase is wrong or the blob corrupted.
func RestoreRecoveryBlob(blob *RecoveryBlob, passphrase string) ([]byte, error) {
	if err := blob.Validate(); err != nil {
		return nil, err
	}
	f, err := blob.fields()
	if err != nil {
		return nil, err
	}

	key, err := blob.KDF.derive(passphrase, f.salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	privateKey, err := aead.Open(nil, f.nonce, f.wrapped, recoveryAAD(blob.KDF))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return privateKey, nil
}
