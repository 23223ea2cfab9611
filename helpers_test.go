package e2ee

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

// fastKDF keeps recovery tests quick.
var fastKDF = KDFParams{Name: crypto.KDFScrypt, N: 1 << 10, R: 8, P: 1}

// fakeServer is an in-memory directory and recovery store shared by
// several accounts.
type fakeServer struct {
	mu    sync.Mutex
	keys      map[string]string
	usernames map[string]string // username -> sub
	blobs     map[string]*RecoveryBlob

	publishErr error
	lookupErr  error
	blobGetErr error
	blobPutErr error

	publishes int
	lookups   int
	blobPuts  int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		keys:      make(map[string]string),
		usernames: make(map[string]string),
		blobs:     make(map[string]*RecoveryBlob),
	}
}

// as returns the view of the server authenticated as sub.
func (s *fakeServer) as(sub string) *fakeAccount {
	return &fakeAccount{srv: s, sub: sub}
}

func (s *fakeServer) setErr(dst *error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*dst = err
}

func (s *fakeServer) key(sub string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[sub]
}

func (s *fakeServer) blob(sub string) *RecoveryBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[sub]
}

func (s *fakeServer) counts() (publishes, lookups, blobPuts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishes, s.lookups, s.blobPuts
}

type fakeAccount struct {
	srv *fakeServer
	sub string
}

func (a *fakeAccount) GetPublicKey(ctx context.Context, sub string) (*PublicKeyRecord, error) {
	s := a.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	pub, ok := s.keys[sub]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "not found", Resource: "public_key"}
	}
	return &PublicKeyRecord{Sub: sub, PublicKey: pub, ObservedAt: time.Now()}, nil
}

func (a *fakeAccount) GetPublicKeyByUsername(ctx context.Context, username string) (*PublicKeyRecord, error) {
	a.srv.mu.Lock()
	sub, ok := a.srv.usernames[username]
	a.srv.mu.Unlock()
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "not found", Resource: "public_key"}
	}
	rec, err := a.GetPublicKey(ctx, sub)
	if err != nil {
		return nil, err
	}
	rec.Username = username
	return rec, nil
}

func (a *fakeAccount) PublishPublicKey(ctx context.Context, publicKeyHex string) error {
	s := a.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes++
	if s.publishErr != nil {
		return s.publishErr
	}
	s.keys[a.sub] = publicKeyHex
	return nil
}

func (a *fakeAccount) GetRecoveryBlob(ctx context.Context) (*RecoveryBlob, error) {
	s := a.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobGetErr != nil {
		return nil, s.blobGetErr
	}
	b, ok := s.blobs[a.sub]
	if !ok {
		return nil, ErrRecoveryBlobMissing
	}
	c := *b
	return &c, nil
}

func (a *fakeAccount) PutRecoveryBlob(ctx context.Context, blob *RecoveryBlob) error {
	s := a.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobPuts++
	if s.blobPutErr != nil {
		return s.blobPutErr
	}
	c := *blob
	s.blobs[a.sub] = &c
	return nil
}

// scriptedPrompter answers prompts from fixed scripts.
type scriptedPrompter struct {
	mu       sync.Mutex
	answers  []PromptResult
	newPass  [][2]string
	attempts []int
	lastErrs []error
	reasons  []PromptReason
}

func (p *scriptedPrompter) Passphrase(ctx context.Context, attempt int, lastErr error) (PromptResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, attempt)
	p.lastErrs = append(p.lastErrs, lastErr)
	if len(p.answers) == 0 {
		return PromptResult{}, ErrRecoveryCancelled
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) NewPassphrase(ctx context.Context, reason PromptReason) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reasons = append(p.reasons, reason)
	if len(p.newPass) == 0 {
		return "", "", ErrRecoveryCancelled
	}
	np := p.newPass[0]
	p.newPass = p.newPass[1:]
	return np[0], np[1], nil
}

func submit(pass string) PromptResult {
	return PromptResult{Action: ActionSubmit, Passphrase: pass}
}

// noWait never backs off between wrong passphrases.
var noWait = RetryPolicy{}

// newTestClient creates a client for sub against srv with fast settings.
func newTestClient(t *testing.T, srv *fakeServer, sub string, opts ...Option) *Client {
	t.Helper()
	acct := srv.as(sub)
	base := []Option{
		WithDirectory(acct),
		WithRecoveryStore(acct),
		WithKDFParams(fastKDF),
		WithRetryPolicy(noWait),
	}
	c, err := New(sub, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New(%q) error = %v", sub, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// readyClient returns a client with a published identity.
func readyClient(t *testing.T, srv *fakeServer, sub string, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, srv, sub, opts...)
	if _, err := c.EnsureIdentity(context.Background()); err != nil {
		t.Fatalf("EnsureIdentity(%q) error = %v", sub, err)
	}
	return c
}

var errBoom = errors.New("boom")
