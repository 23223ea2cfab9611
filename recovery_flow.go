package e2ee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

// PromptAction is the user's answer to a passphrase prompt.
type PromptAction int

const (
	// ActionSubmit tries the entered passphrase.
	ActionSubmit PromptAction = iota
	// ActionCancel abandons recovery without side effects.
	ActionCancel
	// ActionReset discards the backup and creates a new identity.
	ActionReset
)

// PromptReason says why a new passphrase is requested.
type PromptReason int

const (
	// ReasonBackup offers a backup of a freshly generated key.
	ReasonBackup PromptReason = iota
	// ReasonReset requests the passphrase protecting a replacement key.
	ReasonReset
)

func (r PromptReason) String() string {
	switch r {
	case ReasonBackup:
		return "backup"
	case ReasonReset:
		return "reset"
	default:
		return fmt.Sprintf("PromptReason(%d)", int(r))
	}
}

// PromptResult is returned by Prompter.Passphrase.
type PromptResult struct {
	Action     PromptAction
	Passphrase string
}

// Prompter asks the user for passphrases.
type Prompter interface {
	// Passphrase asks for the recovery passphrase. attempt starts at 1 and
	// lastErr is the failure of the previous attempt, if any.
	Passphrase(ctx context.Context, attempt int, lastErr error) (PromptResult, error)

	// NewPassphrase asks for a new passphrase and its confirmation.
	// Returning ErrRecoveryCancelled declines.
	NewPassphrase(ctx context.Context, reason PromptReason) (passphrase, confirm string, err error)
}

// RetryPolicy bounds the passphrase loop.
type RetryPolicy struct {
	// MaxAttempts of zero means unlimited.
	MaxAttempts int
	// Backoff is the wait after the first wrong passphrase; it doubles per
	// further failure up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy prompts until success or cancel with a short,
// growing pause after wrong passphrases.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 8 * time.Second,
	}
}

func (p RetryPolicy) delay(failures int) time.Duration {
	if p.Backoff <= 0 || failures <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// RecoveryState is a state of RecoveryFlow.
type RecoveryState int

const (
	RecoveryIdle RecoveryState = iota
	RecoveryPrompting
	RecoveryVerifying
	RecoverySucceeded
	RecoveryCancelled
	RecoveryReset
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryIdle:
		return "idle"
	case RecoveryPrompting:
		return "prompting"
	case RecoveryVerifying:
		return "verifying"
	case RecoverySucceeded:
		return "succeeded"
	case RecoveryCancelled:
		return "cancelled"
	case RecoveryReset:
		return "reset"
	default:
		return fmt.Sprintf("RecoveryState(%d)", int(s))
	}
}

// RecoveryOutcome is the result of a completed RecoveryFlow.
type RecoveryOutcome struct {
	// State is RecoverySucceeded or RecoveryReset.
	State RecoveryState
	// PrivateKey is set on success. The caller owns it.
	PrivateKey []byte
	// NewPassphrase is set on reset, already confirmed.
	NewPassphrase string
	// Attempts is the number of passphrases tried.
	Attempts int
}

// RecoveryFlow drives the interactive restore of a recovery blob:
// Idle → Prompting → Verifying → (Succeeded | Prompting), with Cancelled
// and Reset reachable from Prompting. Nothing is persisted by the flow.
type RecoveryFlow struct {
	blob     *RecoveryBlob
	prompter Prompter
	policy   RetryPolicy
	logger   zerolog.Logger

	mu    sync.Mutex
	state RecoveryState

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to RecoveryState)
}

// NewRecoveryFlow creates a flow for blob.
func NewRecoveryFlow(blob *RecoveryBlob, prompter Prompter, policy RetryPolicy, logger zerolog.Logger) *RecoveryFlow {
	return &RecoveryFlow{
		blob:     blob,
		prompter: prompter,
		policy:   policy,
		logger:   logger,
	}
}

// State returns the current state.
func (f *RecoveryFlow) State() RecoveryState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *RecoveryFlow) transition(to RecoveryState) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()

	f.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("recovery state")
	if f.OnTransition != nil {
		f.OnTransition(from, to)
	}
}

func (f *RecoveryFlow) cancel(cause error) error {
	f.transition(RecoveryCancelled)
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrRecoveryCancelled, cause)
	}
	return ErrRecoveryCancelled
}

// Run prompts until the blob opens, the user cancels or resets, the retry
// policy is exhausted, or ctx is done. A cancelled context ends the flow in
// RecoveryCancelled.
func (f *RecoveryFlow) Run(ctx context.Context) (*RecoveryOutcome, error) {
	if f.State() != RecoveryIdle {
		return nil, errors.New("recovery flow already run")
	}
	if f.prompter == nil {
		return nil, f.cancel(errors.New("no prompter configured"))
	}
	if err := f.blob.Validate(); err != nil {
		f.transition(RecoveryCancelled)
		return nil, err
	}

	var (
		attempts int
		lastErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, f.cancel(err)
		}

		f.transition(RecoveryPrompting)
		res, err := f.prompter.Passphrase(ctx, attempts+1, lastErr)
		if err != nil {
			if errors.Is(err, ErrRecoveryCancelled) {
				return nil, f.cancel(nil)
			}
			return nil, f.cancel(err)
		}

		switch res.Action {
		case ActionCancel:
			return nil, f.cancel(nil)

		case ActionReset:
			pass, err := f.confirmNewPassphrase(ctx, ReasonReset)
			if errors.Is(err, ErrRecoveryCancelled) {
				// Back out of the reset and keep prompting.
				lastErr = nil
				continue
			}
			if err != nil {
				return nil, f.cancel(err)
			}
			f.transition(RecoveryReset)
			return &RecoveryOutcome{State: RecoveryReset, NewPassphrase: pass, Attempts: attempts}, nil

		case ActionSubmit:
			f.transition(RecoveryVerifying)
			attempts++
			key, err := crypto.RestoreRecoveryBlob(f.blob, res.Passphrase)
			if err == nil {
				f.transition(RecoverySucceeded)
				return &RecoveryOutcome{State: RecoverySucceeded, PrivateKey: key, Attempts: attempts}, nil
			}
			if !errors.Is(err, crypto.ErrWrongPassphrase) {
				f.transition(RecoveryCancelled)
				return nil, err
			}
			f.logger.Info().Int("attempt", attempts).Msg("wrong recovery passphrase")
			if f.policy.exhausted(attempts) {
				f.transition(RecoveryCancelled)
				return nil, fmt.Errorf("%w after %d attempts", ErrWrongPassphrase, attempts)
			}
			lastErr = ErrWrongPassphrase
			if err := sleepContext(ctx, f.policy.delay(attempts)); err != nil {
				return nil, f.cancel(err)
			}

		default:
			return nil, f.cancel(fmt.Errorf("unknown prompt action %d", res.Action))
		}
	}
}

// confirmNewPassphrase asks for a new passphrase until both entries match,
// the user declines, or the retry policy is exhausted.
func (f *RecoveryFlow) confirmNewPassphrase(ctx context.Context, reason PromptReason) (string, error) {
	return askNewPassphrase(ctx, f.prompter, reason, f.policy)
}

func askNewPassphrase(ctx context.Context, p Prompter, reason PromptReason, policy RetryPolicy) (string, error) {
	for tries := 1; ; tries++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pass, confirm, err := p.NewPassphrase(ctx, reason)
		if err != nil {
			return "", err
		}
		err = checkNewPassphrase(pass, confirm)
		if err == nil {
			return pass, nil
		}
		if policy.exhausted(tries) {
			return "", err
		}
	}
}

func checkNewPassphrase(pass, confirm string) error {
	if pass == "" {
		return ErrEmptyPassphrase
	}
	if pass != confirm {
		return ErrPassphraseMismatch
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
