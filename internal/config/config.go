// Package config loads file and environment configuration for the e2eectl
// tool and any process embedding the client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

// Environment variables that override file values.
const (
	EnvAccount      = "E2EE_ACCOUNT"
	EnvDirectoryURL = "E2EE_DIRECTORY_URL"
	EnvToken        = "E2EE_TOKEN"
	EnvStorePath    = "E2EE_STORE_PATH"
	EnvLogLevel     = "E2EE_LOG_LEVEL"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete configuration.
type Config struct {
	Account   string          `yaml:"account"`
	Directory DirectoryConfig `yaml:"directory"`
	Store     StoreConfig     `yaml:"store"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// DirectoryConfig configures the directory and recovery-store client.
type DirectoryConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RateLimit  float64       `yaml:"rateLimit"`
	RateBurst  int           `yaml:"rateBurst"`
}

// StoreConfig configures the local keypair store.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	LockTimeout time.Duration `yaml:"lockTimeout"`
}

// RecoveryConfig selects the passphrase KDF for new recovery blobs.
type RecoveryConfig struct {
	KDF       string `yaml:"kdf"`
	ScryptN   int    `yaml:"scryptN"`
	ScryptR   int    `yaml:"scryptR"`
	ScryptP   int    `yaml:"scryptP"`
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memoryKiB"`
	Threads   uint8  `yaml:"threads"`
}

// CacheConfig sizes the plaintext and peer-key caches.
type CacheConfig struct {
	Size       int           `yaml:"size"`
	PeerKeyTTL time.Duration `yaml:"peerKeyTTL"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	scrypt := crypto.DefaultScryptParams()
	return Config{
		Directory: DirectoryConfig{
			Timeout:    15 * time.Second,
			MaxRetries: 3,
			RateLimit:  20,
			RateBurst:  10,
		},
		Store: StoreConfig{
			Path:        "e2ee-keys.db",
			LockTimeout: time.Second,
		},
		Recovery: RecoveryConfig{
			KDF:     scrypt.Name,
			ScryptN: scrypt.N,
			ScryptR: scrypt.R,
			ScryptP: scrypt.P,
		},
		Cache: CacheConfig{
			Size:       1024,
			PeerKeyTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without applying the environment
// or validating.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Account, EnvAccount)
	set(&c.Directory.URL, EnvDirectoryURL)
	set(&c.Directory.Token, EnvToken)
	set(&c.Store.Path, EnvStorePath)
	set(&c.Log.Level, EnvLogLevel)

	if raw := strings.TrimSpace(getenv("E2EE_MAX_RETRIES")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.Directory.MaxRetries = n
		}
	}
}

// Validate checks value ranges. Directory settings are only required when a
// URL is configured.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is empty", ErrInvalidConfig)
	}
	if c.Directory.URL != "" && c.Directory.Token == "" {
		return fmt.Errorf("%w: directory.token is required with directory.url", ErrInvalidConfig)
	}
	if c.Directory.MaxRetries < 0 {
		return fmt.Errorf("%w: directory.maxRetries must be >= 0", ErrInvalidConfig)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("%w: cache.size must be >= 0", ErrInvalidConfig)
	}
	if err := c.Recovery.KDFParams().Validate(); err != nil {
		return fmt.Errorf("%w: recovery: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// KDFParams converts the recovery section to crypto parameters.
func (r RecoveryConfig) KDFParams() crypto.KDFParams {
	if r.KDF == crypto.KDFArgon2id {
		return crypto.KDFParams{Name: crypto.KDFArgon2id, Time: r.Time, MemoryKiB: r.MemoryKiB, Threads: r.Threads}
	}
	return crypto.KDFParams{Name: r.KDF, N: r.ScryptN, R: r.ScryptR, P: r.ScryptP}
}
