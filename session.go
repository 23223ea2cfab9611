package e2ee

import (
	"bytes"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

// KeyEpoch counts identity key generations on this device. It increases by
// one whenever the local keypair is generated, restored or reset.
type KeyEpoch uint64

// EpochReason says why the key epoch changed.
type EpochReason string

const (
	// EpochGenerated means a fresh keypair was created for a new account.
	EpochGenerated EpochReason = "generated"
	// EpochRestored means the keypair was recovered from a backup.
	EpochRestored EpochReason = "restored"
	// EpochReset means the keypair was replaced by an explicit reset.
	EpochReset EpochReason = "reset"
)

// EpochChange is delivered to OnEpochChange listeners.
type EpochChange struct {
	Previous  KeyEpoch
	Current   KeyEpoch
	Reason    EpochReason
	PublicKey string // hex
}

// Session is an immutable snapshot of the loaded identity. A new Session
// replaces the old one on every key change; holders of an old Session keep
// a consistent view of the key it was created with.
type Session struct {
	accountID string
	sub       string
	keyPair   *crypto.KeyPair
	epoch     KeyEpoch
	published bool
}

func newSession(accountID, sub string, kp *crypto.KeyPair, epoch KeyEpoch, published bool) *Session {
	return &Session{
		accountID: accountID,
		sub:       sub,
		keyPair:   kp.Clone(),
		epoch:     epoch,
		published: published,
	}
}

// AccountID returns the local account id.
func (s *Session) AccountID() string { return s.accountID }

// Sub returns the user id under which group wraps are addressed.
func (s *Session) Sub() string { return s.sub }

// Epoch returns the key epoch of this snapshot.
func (s *Session) Epoch() KeyEpoch { return s.epoch }

// Published reports whether the directory confirmed this public key.
// Sending requires a published key.
func (s *Session) Published() bool { return s.published }

// PublicKey returns a copy of the identity public key.
func (s *Session) PublicKey() []byte { return bytes.Clone(s.keyPair.PublicKey) }

// PublicKeyHex returns the identity public key as lowercase hex.
func (s *Session) PublicKeyHex() string { return s.keyPair.PublicKeyHex() }

// Fingerprint returns a short printable digest of the public key.
func (s *Session) Fingerprint() string { return crypto.Fingerprint(s.keyPair.PublicKey) }

// IsOwnKey reports whether publicKey is this session's public key.
func (s *Session) IsOwnKey(publicKey []byte) bool {
	return bytes.Equal(publicKey, s.keyPair.PublicKey)
}

func (s *Session) privateKey() []byte { return s.keyPair.PrivateKey }
