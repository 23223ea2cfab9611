package e2ee

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultCacheSize  = 1024
	defaultPeerKeyTTL = 24 * time.Hour
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	// HTTP directory, used when no Directory/RecoveryStore is given.
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	retryOn    []int
	rateLimit  float64
	rateBurst  int

	sub        string
	store      KeyStore
	directory  Directory
	recovery   RecoveryStore
	prompter   Prompter
	logger     zerolog.Logger
	registerer prometheus.Registerer
	cacheSize  int
	peerKeyTTL time.Duration
	policy     RetryPolicy
	kdf        KDFParams
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		timeout:    defaultTimeout,
		logger:     zerolog.Nop(),
		cacheSize:  defaultCacheSize,
		peerKeyTTL: defaultPeerKeyTTL,
		policy:     DefaultRetryPolicy(),
		kdf:        DefaultKDFParams(),
	}
}

// Option configures the client.
type Option func(*clientConfig)

// WithServer points the client at an HTTP directory and recovery store.
// It is ignored for whichever of the two is set with WithDirectory or
// WithRecoveryStore.
func WithServer(baseURL, token string) Option {
	return func(c *clientConfig) {
		c.baseURL = baseURL
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client for WithServer.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for directory calls.
// Zero disables retries.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		if count == 0 {
			count = -1
		}
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithRateLimit caps directory requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *clientConfig) {
		c.rateLimit = perSecond
		c.rateBurst = burst
	}
}

// WithAccountSub sets the user id this account is known by in group
// envelopes. Defaults to the account id.
func WithAccountSub(sub string) Option {
	return func(c *clientConfig) {
		c.sub = sub
	}
}

// WithKeyStore sets where the keypair is persisted. Defaults to memory.
// The client does not close a store passed here.
func WithKeyStore(store KeyStore) Option {
	return func(c *clientConfig) {
		c.store = store
	}
}

// WithDirectory sets the public-key directory.
func WithDirectory(d Directory) Option {
	return func(c *clientConfig) {
		c.directory = d
	}
}

// WithRecoveryStore sets the recovery-blob store.
func WithRecoveryStore(s RecoveryStore) Option {
	return func(c *clientConfig) {
		c.recovery = s
	}
}

// WithPrompter sets the passphrase prompter used by recovery and backup.
// Without one, restoring an existing backup fails with ErrRecoveryCancelled
// and no backup is offered for new keys.
func WithPrompter(p Prompter) Option {
	return func(c *clientConfig) {
		c.prompter = p
	}
}

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithMetricsRegisterer registers the client's metrics on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithCacheSize sets how many decrypted messages are kept in memory.
// Default: 1024
func WithCacheSize(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithPeerKeyTTL sets how long a previously fetched peer key may be used
// when the directory is unreachable. Zero disables the fallback.
// Default: 24 hours
func WithPeerKeyTTL(ttl time.Duration) Option {
	return func(c *clientConfig) {
		c.peerKeyTTL = ttl
	}
}

// WithRetryPolicy sets the passphrase retry policy for recovery.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *clientConfig) {
		c.policy = p
	}
}

// WithKDFParams sets the KDF used for new recovery blobs. Existing blobs
// always open with the parameters stored in them.
func WithKDFParams(p KDFParams) Option {
	return func(c *clientConfig) {
		c.kdf = p
	}
}
