package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vaultsandbox/e2ee-go/internal/config"
	"github.com/vaultsandbox/e2ee-go/internal/crypto"
	"github.com/vaultsandbox/e2ee-go/internal/envelope"
	"github.com/vaultsandbox/e2ee-go/internal/keystore"
)

// EnvPassphrase is read when --passphrase-file is not given.
const EnvPassphrase = "E2EE_PASSPHRASE"

// Config holds the process environment of the tool.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
}

// DefaultConfig returns a Config bound to the process.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	}
}

// app is the state shared by all subcommands.
type app struct {
	env        Config
	configPath string
	account    string
	passFile   string

	cfg    config.Config
	logger zerolog.Logger
}

func run(args []string, env Config) error {
	a := &app{env: env}
	root := a.rootCmd()
	root.SetArgs(args[1:])
	root.SetIn(env.Stdin)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	return root.ExecuteContext(context.Background())
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "e2eectl",
		Short:         "Manage end-to-end encryption keys and envelopes",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.account, "account", "", "account id (overrides config)")
	root.PersistentFlags().StringVar(&a.passFile, "passphrase-file", "", "read the passphrase from this file instead of $"+EnvPassphrase)

	root.AddCommand(
		a.keygenCmd(),
		a.pubkeyCmd(),
		a.fingerprintCmd(),
		a.dmCmd(),
		a.recoveryCmd(),
		a.passwordCmd(),
		a.passphraseCmd(),
		a.identityCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg := config.Default()
	if a.configPath != "" {
		data, err := os.ReadFile(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
		if cfg, err = config.Parse(data); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}
	cfg.ApplyEnv(a.env.Getenv)
	if a.account != "" {
		cfg.Account = a.account
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(a.env.Stderr, cfg.Log)
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	if lc.Format == "json" {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func (a *app) requireAccount() error {
	if a.cfg.Account == "" {
		return errors.New("account is required (--account or " + config.EnvAccount + ")")
	}
	return nil
}

func (a *app) openStore() (*keystore.BoltStore, error) {
	return keystore.OpenBolt(a.cfg.Store.Path, a.cfg.Store.LockTimeout)
}

// withRecord loads the account's keypair from the store.
func (a *app) withRecord(ctx context.Context, fn func(*keystore.Record) error) error {
	if err := a.requireAccount(); err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Load(ctx, a.cfg.Account)
	if errors.Is(err, keystore.ErrNotFound) {
		return fmt.Errorf("no keypair for %q, run keygen first", a.cfg.Account)
	}
	if err != nil {
		return err
	}
	return fn(rec)
}

// errHasKeypair is returned when keygen or restore would overwrite a stored
// keypair. Replacing a key also replaces its backup and republishes it, so
// it only happens through "identity --reset".
var errHasKeypair = errors.New("account already has a keypair; use \"e2eectl identity --reset\" to replace it")

// installKey stores privateKey as the account's first keypair.
func (a *app) installKey(ctx context.Context, privateKey []byte) (*keystore.Record, error) {
	if err := a.requireAccount(); err != nil {
		return nil, err
	}
	kp, err := crypto.KeyPairFromPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	prev, err := store.Load(ctx, a.cfg.Account)
	switch {
	case err == nil:
		if bytes.Equal(prev.PrivateKey, kp.PrivateKey) {
			return prev, nil
		}
		return nil, fmt.Errorf("%q: %w", a.cfg.Account, errHasKeypair)
	case !errors.Is(err, keystore.ErrNotFound):
		return nil, err
	}

	rec := &keystore.Record{
		AccountID:  a.cfg.Account,
		PrivateKey: kp.PrivateKey,
		PublicKey:  kp.PublicKey,
		Epoch:      1,
		UpdatedAt:  time.Now(),
	}
	if err := store.Save(ctx, rec); err != nil {
		return nil, err
	}
	a.logger.Info().Str("account", rec.AccountID).Uint64("epoch", rec.Epoch).
		Str("fingerprint", crypto.Fingerprint(rec.PublicKey)).Msg("keypair stored")
	return rec.Clone(), nil
}

func (a *app) passphrase() (string, error) {
	var pass string
	if a.passFile != "" {
		data, err := os.ReadFile(a.passFile)
		if err != nil {
			return "", fmt.Errorf("read passphrase file: %w", err)
		}
		pass = strings.TrimRight(string(data), "\r\n")
	} else {
		pass = a.env.Getenv(EnvPassphrase)
	}
	if pass == "" {
		return "", fmt.Errorf("passphrase is empty (set --passphrase-file or $%s)", EnvPassphrase)
	}
	return pass, nil
}

func (a *app) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate and store a new identity keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer kp.Wipe()
			rec, err := a.installKey(cmd.Context(), kp.PrivateKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.env.Stdout, crypto.ToHex(rec.PublicKey))
			return nil
		},
	}
}

func (a *app) pubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the stored public key as hex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRecord(cmd.Context(), func(rec *keystore.Record) error {
				pub, err := crypto.DerivePublicKey(rec.PrivateKey)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.env.Stdout, crypto.ToHex(pub))
				return nil
			})
		},
	}
}

func (a *app) fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [public-key-hex]",
		Short: "Print the fingerprint of a public key (default: own key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				pub, err := crypto.PublicKeyFromHex(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.env.Stdout, crypto.Fingerprint(pub))
				return nil
			}
			return a.withRecord(cmd.Context(), func(rec *keystore.Record) error {
				pub, err := crypto.DerivePublicKey(rec.PrivateKey)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.env.Stdout, crypto.Fingerprint(pub))
				return nil
			})
		},
	}
}

func (a *app) dmCmd() *cobra.Command {
	dm := &cobra.Command{
		Use:   "dm",
		Short: "Encrypt or decrypt direct-message envelopes",
	}

	var to string
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin to --to and print the envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, err := crypto.PublicKeyFromHex(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			plaintext, err := io.ReadAll(a.env.Stdin)
			if err != nil {
				return err
			}
			return a.withRecord(cmd.Context(), func(rec *keystore.Record) error {
				env, err := crypto.EncryptDM(plaintext, rec.PrivateKey, recipient)
				if err != nil {
					return err
				}
				data, err := envelope.Encode(env)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.env.Stdout, string(data))
				return nil
			})
		},
	}
	encrypt.Flags().StringVar(&to, "to", "", "recipient public key (hex)")
	_ = encrypt.MarkFlagRequired("to")

	decrypt := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt an envelope read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(a.env.Stdin)
			if err != nil {
				return err
			}
			env, err := envelope.Decode(data)
			if err != nil {
				return err
			}
			dmEnv, ok := env.(*envelope.DM)
			if !ok {
				return fmt.Errorf("envelope kind %q is not %q", env.EnvelopeKind(), envelope.KindDM)
			}
			return a.withRecord(cmd.Context(), func(rec *keystore.Record) error {
				plaintext, err := crypto.DecryptDM(dmEnv, rec.PrivateKey)
				if err != nil {
					return err
				}
				_, err = a.env.Stdout.Write(plaintext)
				return err
			})
		},
	}

	dm.AddCommand(encrypt, decrypt)
	return dm
}

func (a *app) recoveryCmd() *cobra.Command {
	rc := &cobra.Command{
		Use:   "recovery",
		Short: "Create or restore passphrase-protected key backups",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Print a recovery blob for the stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := a.passphrase()
			if err != nil {
				return err
			}
			return a.withRecord(cmd.Context(), func(rec *keystore.Record) error {
				blob, err := crypto.CreateRecoveryBlob(rec.PrivateKey, pass, a.cfg.Recovery.KDFParams())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.env.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(blob)
			})
		},
	}

	restore := &cobra.Command{
		Use:   "restore",
		Short: "Restore the key from a recovery blob read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := a.passphrase()
			if err != nil {
				return err
			}
			var blob crypto.RecoveryBlob
			if err := json.NewDecoder(a.env.Stdin).Decode(&blob); err != nil {
				return fmt.Errorf("parse recovery blob: %w", err)
			}
			priv, err := crypto.RestoreRecoveryBlob(&blob, pass)
			if err != nil {
				return err
			}
			defer clear(priv)
			rec, err := a.installKey(cmd.Context(), priv)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.env.Stdout, crypto.ToHex(rec.PublicKey))
			return nil
		},
	}

	rc.AddCommand(create, restore)
	return rc
}

func (a *app) passwordCmd() *cobra.Command {
	pc := &cobra.Command{
		Use:   "password",
		Short: "Hash or verify channel passwords",
	}

	readLine := func() (string, error) {
		line, err := bufio.NewReader(a.env.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	hash := &cobra.Command{
		Use:   "hash",
		Short: "Hash the password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readLine()
			if err != nil {
				return err
			}
			h, err := crypto.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.env.Stdout, h)
			return nil
		},
	}

	verify := &cobra.Command{
		Use:   "verify <hash>",
		Short: "Check the password read from stdin against a stored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readLine()
			if err != nil {
				return err
			}
			if !crypto.VerifyPassword(pw, args[0]) {
				return errors.New("password does not match")
			}
			fmt.Fprintln(a.env.Stdout, "ok")
			return nil
		},
	}

	pc.AddCommand(hash, verify)
	return pc
}

func (a *app) passphraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passphrase",
		Short: "Suggest a random recovery passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := crypto.SuggestPassphrase()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.env.Stdout, p)
			return nil
		},
	}
}
