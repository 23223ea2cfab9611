package e2ee

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vaultsandbox/e2ee-go/internal/api"
)

// Client is the end-to-end encryption core for one account on one device.
// It owns the identity keypair, encrypts outgoing messages and attachments,
// and decrypts incoming ones on demand.
type Client struct {
	accountID string
	store     KeyStore
	ownsStore bool
	identity  *identityManager
	peers     *peerKeys
	cache     *plaintextCache
	subs      *epochSubscriptions
	metrics   *metrics
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// buildAPIClient creates the HTTP directory client from the given config.
func buildAPIClient(cfg *clientConfig) (*api.Client, error) {
	apiOpts := []api.Option{
		api.WithBaseURL(cfg.baseURL),
		api.WithLogger(cfg.logger),
	}
	if cfg.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(cfg.httpClient))
	} else if cfg.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.timeout))
	}
	if cfg.retries != 0 {
		apiOpts = append(apiOpts, api.WithRetries(max(cfg.retries, 0)))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn))
	}
	if cfg.rateLimit > 0 {
		apiOpts = append(apiOpts, api.WithRateLimit(rate.Limit(cfg.rateLimit), cfg.rateBurst))
	}
	return api.New(cfg.token, apiOpts...)
}

// New creates a client for accountID. A directory and recovery store are
// required, either with WithServer or WithDirectory and WithRecoveryStore.
// New does not touch the network; call EnsureIdentity before sending.
func New(accountID string, opts ...Option) (*Client, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.sub == "" {
		cfg.sub = accountID
	}

	if cfg.directory == nil || cfg.recovery == nil {
		if cfg.baseURL == "" {
			return nil, ErrMissingDirectory
		}
		apiClient, err := buildAPIClient(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.directory == nil {
			cfg.directory = apiClient
		}
		if cfg.recovery == nil {
			cfg.recovery = recoveryAdapter{apiClient}
		}
	}

	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}
	cache, err := newPlaintextCache(cfg.cacheSize, m)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger.With().Str("account", accountID).Logger()

	store, ownsStore := cfg.store, false
	if store == nil {
		store, ownsStore = NewMemoryKeyStore(), true
	}

	subs := newEpochSubscriptions()
	c := &Client{
		accountID: accountID,
		store:     store,
		ownsStore: ownsStore,
		peers:     newPeerKeys(cfg.directory, cfg.peerKeyTTL, logger),
		cache:     cache,
		subs:      subs,
		metrics:   m,
		logger:    logger,
	}
	c.identity = &identityManager{
		accountID: accountID,
		sub:       cfg.sub,
		store:     store,
		dir:       cfg.directory,
		recovery:  cfg.recovery,
		prompter:  cfg.prompter,
		policy:    cfg.policy,
		kdf:       cfg.kdf,
		logger:    logger,
		metrics:   m,
		subs:      subs,
		now:       time.Now,
	}

	// Registered first so the cache is purged before user listeners run.
	subs.subscribe(func(EpochChange) { c.cache.purge() })

	return c, nil
}

// recoveryAdapter maps the HTTP client's not-found error onto
// ErrRecoveryBlobMissing.
type recoveryAdapter struct {
	c *api.Client
}

func (r recoveryAdapter) GetRecoveryBlob(ctx context.Context) (*RecoveryBlob, error) {
	blob, err := r.c.GetRecoveryBlob(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return blob, nil
}

func (r recoveryAdapter) PutRecoveryBlob(ctx context.Context, blob *RecoveryBlob) error {
	return wrapError(r.c.PutRecoveryBlob(ctx, blob))
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// EnsureIdentity makes the account's keypair available. It loads the stored
// keypair, repairing and republishing a mismatched public key; otherwise it
// restores the backup through the Prompter, or generates, publishes and
// offers to back up a new keypair. A publish failure is returned as a
// *PublishError together with the unpublished Session; the key is kept and
// published again on the next call.
func (c *Client) EnsureIdentity(ctx context.Context) (*Session, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return c.identity.ensure(ctx)
}

// Session returns the current identity snapshot.
func (c *Client) Session() (*Session, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	s := c.identity.current()
	if s == nil {
		return nil, ErrNoIdentity
	}
	return s, nil
}

// OnEpochChange registers fn to be called after every key change. The
// returned function unregisters it.
func (c *Client) OnEpochChange(fn func(EpochChange)) func() {
	return c.subs.subscribe(fn)
}

// CreateBackup uploads a recovery blob for the current key, replacing any
// existing one.
func (c *Client) CreateBackup(ctx context.Context, passphrase string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return c.identity.backup(ctx, passphrase)
}

// ResetIdentity replaces the keypair with a new one protected by
// passphrase. Messages encrypted to the old key become unreadable. Nothing
// changes unless confirm equals passphrase. As with EnsureIdentity, a
// publish failure returns the new, unpublished Session with the error.
func (c *Client) ResetIdentity(ctx context.Context, passphrase, confirm string) (*Session, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return c.identity.reset(ctx, passphrase, confirm)
}

// PeerKey returns the current directory entry of sub.
func (c *Client) PeerKey(ctx context.Context, sub string) (*PublicKeyRecord, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	rec, _, err := c.peers.lookup(ctx, sub)
	return rec, err
}

// PeerKeyByUsername returns the current directory entry of the user with
// the given username. The returned Sub can be passed to SendDM.
func (c *Client) PeerKeyByUsername(ctx context.Context, username string) (*PublicKeyRecord, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return c.peers.lookupUsername(ctx, username)
}

// Close closes the client and releases resources. A key store passed with
// WithKeyStore is left open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.subs.clear()
	c.cache.purge()
	c.peers.clear()

	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}
