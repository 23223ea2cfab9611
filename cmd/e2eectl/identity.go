package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	e2ee "github.com/vaultsandbox/e2ee-go"
)

// resetWord entered at the recovery prompt discards the backup.
const resetWord = "!reset"

// linePrompter reads passphrases line by line. Prompts go to out.
type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	return &linePrompter{in: bufio.NewReader(in), out: out}
}

func (p *linePrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *linePrompter) Passphrase(ctx context.Context, attempt int, lastErr error) (e2ee.PromptResult, error) {
	if lastErr != nil {
		fmt.Fprintf(p.out, "%v\n", lastErr)
	}
	fmt.Fprintf(p.out, "Recovery passphrase (attempt %d, empty to cancel, %s to start over): ", attempt, resetWord)
	line, err := p.readLine()
	if err != nil {
		return e2ee.PromptResult{}, err
	}
	switch line {
	case "":
		return e2ee.PromptResult{Action: e2ee.ActionCancel}, nil
	case resetWord:
		return e2ee.PromptResult{Action: e2ee.ActionReset}, nil
	}
	return e2ee.PromptResult{Action: e2ee.ActionSubmit, Passphrase: line}, nil
}

func (p *linePrompter) NewPassphrase(ctx context.Context, reason e2ee.PromptReason) (string, string, error) {
	fmt.Fprintf(p.out, "New %s passphrase (empty to skip): ", reason)
	pass, err := p.readLine()
	if err != nil {
		return "", "", err
	}
	if pass == "" {
		return "", "", e2ee.ErrRecoveryCancelled
	}
	fmt.Fprint(p.out, "Repeat passphrase: ")
	confirm, err := p.readLine()
	if err != nil {
		return "", "", err
	}
	return pass, confirm, nil
}

// newClient builds an SDK client from the loaded configuration.
func (a *app) newClient(prompter e2ee.Prompter) (*e2ee.Client, func(), error) {
	if err := a.requireAccount(); err != nil {
		return nil, nil, err
	}
	if a.cfg.Directory.URL == "" {
		return nil, nil, errors.New("directory.url is required")
	}

	store, err := e2ee.OpenKeyStore(a.cfg.Store.Path, a.cfg.Store.LockTimeout)
	if err != nil {
		return nil, nil, err
	}

	d := a.cfg.Directory
	client, err := e2ee.New(a.cfg.Account,
		e2ee.WithServer(d.URL, d.Token),
		e2ee.WithTimeout(d.Timeout),
		e2ee.WithRetries(d.MaxRetries),
		e2ee.WithRateLimit(d.RateLimit, d.RateBurst),
		e2ee.WithKeyStore(store),
		e2ee.WithPrompter(prompter),
		e2ee.WithLogger(a.logger),
		e2ee.WithKDFParams(a.cfg.Recovery.KDFParams()),
		e2ee.WithCacheSize(a.cfg.Cache.Size),
		e2ee.WithPeerKeyTTL(a.cfg.Cache.PeerKeyTTL),
	)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return client, func() {
		client.Close()
		store.Close()
	}, nil
}

func (a *app) identityCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Load, restore or create the identity against the directory",
		Long: `Load the stored identity, repairing and republishing it if needed.
Without a stored key, restore it from the server-side backup (prompting for
the passphrase on stdin) or generate and publish a new one.

With --reset, a new identity replaces the current one and the backup is
overwritten. Messages sent to the old key become unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompter := newLinePrompter(a.env.Stdin, a.env.Stderr)
			client, closeFn, err := a.newClient(prompter)
			if err != nil {
				return err
			}
			defer closeFn()

			var s *e2ee.Session
			if reset {
				pass, confirm, err := prompter.NewPassphrase(cmd.Context(), e2ee.ReasonReset)
				if err != nil {
					return err
				}
				s, err = client.ResetIdentity(cmd.Context(), pass, confirm)
				if err != nil {
					return err
				}
			} else {
				s, err = client.EnsureIdentity(cmd.Context())
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(a.env.Stdout, "account:     %s\n", s.AccountID())
			fmt.Fprintf(a.env.Stdout, "public key:  %s\n", s.PublicKeyHex())
			fmt.Fprintf(a.env.Stdout, "fingerprint: %s\n", s.Fingerprint())
			fmt.Fprintf(a.env.Stdout, "epoch:       %d\n", s.Epoch())
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "replace the identity and its backup")

	backup := &cobra.Command{
		Use:   "backup",
		Short: "Upload a new recovery blob for the current identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := a.passphrase()
			if err != nil {
				return err
			}
			client, closeFn, err := a.newClient(nil)
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := client.EnsureIdentity(cmd.Context()); err != nil {
				return err
			}
			if err := client.CreateBackup(cmd.Context(), pass); err != nil {
				return err
			}
			fmt.Fprintln(a.env.Stdout, "backup uploaded")
			return nil
		},
	}
	cmd.AddCommand(backup)
	return cmd
}
