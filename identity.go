package e2ee

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
	"github.com/vaultsandbox/e2ee-go/internal/keystore"
)

// identityManager is the only writer of the account's keypair. All
// mutations hold mu; readers use the current Session snapshot.
type identityManager struct {
	accountID string
	sub       string
	store     KeyStore
	dir       Directory
	recovery  RecoveryStore
	prompter  Prompter
	policy    RetryPolicy
	kdf       KDFParams
	logger    zerolog.Logger
	metrics   *metrics
	subs      *epochSubscriptions
	now       func() time.Time

	mu      sync.Mutex
	session atomic.Pointer[Session]
}

func (m *identityManager) current() *Session {
	return m.session.Load()
}

// ensure loads, repairs, restores or creates the identity. Listeners are
// notified of an epoch change after mu is released.
func (m *identityManager) ensure(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	s, change, err := m.ensureLocked(ctx)
	m.mu.Unlock()

	if change != nil {
		m.subs.notify(*change)
	}
	return s, err
}

func (m *identityManager) ensureLocked(ctx context.Context) (*Session, *EpochChange, error) {
	rec, err := m.store.Load(ctx, m.accountID)
	switch {
	case err == nil:
		s, err := m.loadExisting(ctx, rec)
		return s, nil, err
	case errors.Is(err, keystore.ErrNotFound):
	default:
		return nil, nil, fmt.Errorf("load keypair: %w", err)
	}

	blob, err := m.recovery.GetRecoveryBlob(ctx)
	if err != nil {
		err = wrapError(err)
		if !isBlobMissing(err) {
			return nil, nil, &DirectoryError{Op: "get recovery blob", Err: err}
		}
		m.logger.Info().Str("account", m.accountID).Msg("no recovery blob, generating identity")
		return m.create(ctx, EpochGenerated, "")
	}

	flow := NewRecoveryFlow(blob, m.prompter, m.policy, m.logger)
	out, err := flow.Run(ctx)
	if err != nil {
		return nil, nil, err
	}

	switch out.State {
	case RecoverySucceeded:
		kp, err := crypto.KeyPairFromPrivateKey(out.PrivateKey)
		clear(out.PrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("restored key: %w", err)
		}
		defer kp.Wipe()
		return m.install(ctx, kp, EpochRestored)
	case RecoveryReset:
		return m.create(ctx, EpochReset, out.NewPassphrase)
	default:
		return nil, nil, fmt.Errorf("recovery ended in state %s", out.State)
	}
}

// loadExisting checks a stored record, repairs a mismatched public key and
// publishes the key if the directory has not confirmed it yet.
func (m *identityManager) loadExisting(ctx context.Context, rec *KeyRecord) (*Session, error) {
	kp, err := crypto.KeyPairFromPrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("stored keypair for %q: %w", m.accountID, err)
	}
	defer kp.Wipe()

	if !bytes.Equal(rec.PublicKey, kp.PublicKey) {
		m.logger.Warn().Err(ErrKeyMismatchRepaired).
			Str("account", m.accountID).
			Str("fingerprint", crypto.Fingerprint(kp.PublicKey)).
			Msg("stored public key did not match private key")
		m.metrics.repairs.Inc()

		rec.PublicKey = bytes.Clone(kp.PublicKey)
		rec.Published = false
		rec.UpdatedAt = m.now()
		if err := m.store.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("save repaired keypair: %w", err)
		}
	}

	var pubErr error
	wasPublished := rec.Published
	if !wasPublished {
		pubErr = m.publish(ctx, rec)
	}

	s := newSession(m.accountID, m.sub, kp, KeyEpoch(rec.Epoch), rec.Published)
	m.session.Store(s)
	m.metrics.epoch.Set(float64(rec.Epoch))

	// A key whose first publish failed skipped the backup offer in create.
	if !wasPublished && pubErr == nil {
		m.offerMissingBackup(ctx, kp.PrivateKey)
	}
	return s, pubErr
}

// offerMissingBackup offers a backup if the recovery store has none.
func (m *identityManager) offerMissingBackup(ctx context.Context, privateKey []byte) {
	if m.prompter == nil {
		return
	}
	_, err := m.recovery.GetRecoveryBlob(ctx)
	if err == nil {
		return
	}
	if err = wrapError(err); !isBlobMissing(err) {
		m.logger.Warn().Err(err).Str("account", m.accountID).Msg("check recovery blob")
		return
	}
	m.offerBackup(ctx, privateKey)
}

// create generates a new keypair. With a passphrase (reset) the backup is
// uploaded; without one the user is offered a backup.
func (m *identityManager) create(ctx context.Context, reason EpochReason, passphrase string) (*Session, *EpochChange, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	defer kp.Wipe()

	s, change, err := m.install(ctx, kp, reason)
	if s == nil {
		return nil, change, err
	}

	if passphrase != "" {
		// The old blob wraps a key that no longer exists; replace it even
		// when publishing failed.
		if upErr := m.uploadBackup(ctx, kp.PrivateKey, passphrase); upErr != nil {
			return s, change, errors.Join(err, upErr)
		}
		return s, change, err
	}
	if err != nil {
		return s, change, err
	}
	m.offerBackup(ctx, kp.PrivateKey)
	return s, change, nil
}

// install persists kp under the next epoch, then publishes it. The new
// session is live even if publishing fails; it is just not Published.
func (m *identityManager) install(ctx context.Context, kp *crypto.KeyPair, reason EpochReason) (*Session, *EpochChange, error) {
	prev := m.previousEpoch(ctx)
	rec := &KeyRecord{
		AccountID:  m.accountID,
		PrivateKey: bytes.Clone(kp.PrivateKey),
		PublicKey:  bytes.Clone(kp.PublicKey),
		Epoch:      uint64(prev) + 1,
		UpdatedAt:  m.now(),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("save keypair: %w", err)
	}

	pubErr := m.publish(ctx, rec)

	s := newSession(m.accountID, m.sub, kp, KeyEpoch(rec.Epoch), rec.Published)
	m.session.Store(s)
	m.metrics.epoch.Set(float64(rec.Epoch))

	m.logger.Info().
		Str("account", m.accountID).
		Str("reason", string(reason)).
		Uint64("epoch", rec.Epoch).
		Str("fingerprint", s.Fingerprint()).
		Msg("identity key changed")

	change := &EpochChange{
		Previous:  prev,
		Current:   s.epoch,
		Reason:    reason,
		PublicKey: s.PublicKeyHex(),
	}
	return s, change, pubErr
}

func (m *identityManager) previousEpoch(ctx context.Context) KeyEpoch {
	var prev KeyEpoch
	if s := m.session.Load(); s != nil {
		prev = s.epoch
	}
	if rec, err := m.store.Load(ctx, m.accountID); err == nil && KeyEpoch(rec.Epoch) > prev {
		prev = KeyEpoch(rec.Epoch)
	}
	return prev
}

// publish sends rec's public key to the directory and records the
// confirmation.
func (m *identityManager) publish(ctx context.Context, rec *KeyRecord) error {
	fp := crypto.Fingerprint(rec.PublicKey)
	err := m.dir.PublishPublicKey(ctx, crypto.ToHex(rec.PublicKey))
	m.metrics.published(err)
	if err != nil {
		m.logger.Error().Err(err).Str("account", m.accountID).Str("fingerprint", fp).Msg("publish public key")
		return &PublishError{Fingerprint: fp, Err: wrapError(err)}
	}

	rec.Published = true
	rec.UpdatedAt = m.now()
	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save keypair: %w", err)
	}
	m.logger.Debug().Str("account", m.accountID).Str("fingerprint", fp).Msg("public key published")
	return nil
}

func (m *identityManager) offerBackup(ctx context.Context, privateKey []byte) {
	if m.prompter == nil {
		return
	}
	pass, err := askNewPassphrase(ctx, m.prompter, ReasonBackup, m.policy)
	if err != nil {
		if errors.Is(err, ErrRecoveryCancelled) {
			m.logger.Info().Str("account", m.accountID).Msg("backup declined")
			return
		}
		m.logger.Warn().Err(err).Str("account", m.accountID).Msg("backup offer failed")
		return
	}
	if err := m.uploadBackup(ctx, privateKey, pass); err != nil {
		m.logger.Warn().Err(err).Str("account", m.accountID).Msg("backup offer failed")
	}
}

func (m *identityManager) uploadBackup(ctx context.Context, privateKey []byte, passphrase string) error {
	blob, err := crypto.CreateRecoveryBlob(privateKey, passphrase, m.kdf)
	if err != nil {
		return fmt.Errorf("create recovery blob: %w", err)
	}
	if err := m.recovery.PutRecoveryBlob(ctx, blob); err != nil {
		return &DirectoryError{Op: "put recovery blob", Err: wrapError(err)}
	}
	m.logger.Info().Str("account", m.accountID).Str("kdf", blob.KDF.Name).Msg("recovery blob uploaded")
	return nil
}

// backup replaces the recovery blob with one for the current key.
func (m *identityManager) backup(ctx context.Context, passphrase string) error {
	if passphrase == "" {
		return ErrEmptyPassphrase
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session.Load()
	if s == nil {
		return ErrNoIdentity
	}
	return m.uploadBackup(ctx, s.privateKey(), passphrase)
}

// reset replaces the identity. Nothing is generated unless the new
// passphrase is non-empty and confirmed.
func (m *identityManager) reset(ctx context.Context, passphrase, confirm string) (*Session, error) {
	if err := checkNewPassphrase(passphrase, confirm); err != nil {
		return nil, err
	}

	m.mu.Lock()
	s, change, err := m.create(ctx, EpochReset, passphrase)
	m.mu.Unlock()

	if change != nil {
		m.subs.notify(*change)
	}
	return s, err
}
