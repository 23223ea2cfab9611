package e2ee

import (
	"context"
	"time"

	"github.com/vaultsandbox/e2ee-go/internal/api"
	"github.com/vaultsandbox/e2ee-go/internal/crypto"
	"github.com/vaultsandbox/e2ee-go/internal/envelope"
	"github.com/vaultsandbox/e2ee-go/internal/keystore"
)

// KeyStore persists one keypair record per account.
type KeyStore = keystore.Store

// KeyRecord is the stored identity of one account.
type KeyRecord = keystore.Record

// PublicKeyRecord is a directory entry for one user.
type PublicKeyRecord = api.PublicKeyRecord

// RecoveryBlob is a passphrase-wrapped private key as stored server-side.
type RecoveryBlob = crypto.RecoveryBlob

// KDFParams selects the passphrase KDF and its work factors.
type KDFParams = crypto.KDFParams

// MediaInfo describes an attachment.
type MediaInfo = envelope.MediaInfo

// Directory publishes and looks up identity public keys.
// *api.Client satisfies it.
type Directory interface {
	GetPublicKey(ctx context.Context, sub string) (*PublicKeyRecord, error)
	GetPublicKeyByUsername(ctx context.Context, username string) (*PublicKeyRecord, error)
	PublishPublicKey(ctx context.Context, publicKeyHex string) error
}

// RecoveryStore holds the account's recovery blob. GetRecoveryBlob reports
// a missing backup with an error matching ErrRecoveryBlobMissing.
type RecoveryStore interface {
	GetRecoveryBlob(ctx context.Context) (*RecoveryBlob, error)
	PutRecoveryBlob(ctx context.Context, blob *RecoveryBlob) error
}

// NewMemoryKeyStore returns a KeyStore that keeps records in memory.
func NewMemoryKeyStore() KeyStore {
	return keystore.NewMemoryStore()
}

// OpenKeyStore opens (creating if needed) a file-backed KeyStore. timeout
// bounds the wait for the file lock.
func OpenKeyStore(path string, timeout time.Duration) (KeyStore, error) {
	s, err := keystore.OpenBolt(path, timeout)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultKDFParams returns the recovery KDF used when none is configured.
func DefaultKDFParams() KDFParams {
	return crypto.DefaultScryptParams()
}
