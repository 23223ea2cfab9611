//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	e2ee "github.com/vaultsandbox/e2ee-go"
)

var (
	baseURL    string
	aliceToken string
	bobToken   string
)

func TestMain(m *testing.M) {
	// Load .env file if it exists (won't error if missing)
	if err := godotenv.Load("../.env"); err != nil {
		os.Stderr.WriteString("Note: .env file not found at project root\n")
	}

	baseURL = os.Getenv("E2EE_DIRECTORY_URL")
	aliceToken = os.Getenv("E2EE_TOKEN_ALICE")
	bobToken = os.Getenv("E2EE_TOKEN_BOB")

	if baseURL == "" {
		os.Stderr.WriteString("Skipping integration tests: E2EE_DIRECTORY_URL not set\n")
		os.Exit(0)
	}
	if aliceToken == "" || bobToken == "" {
		os.Stderr.WriteString("Skipping integration tests: E2EE_TOKEN_ALICE and E2EE_TOKEN_BOB must be set\n")
		os.Exit(0)
	}

	os.Stderr.WriteString("Running integration tests...\n")
	os.Stderr.WriteString("Directory URL: " + baseURL + "\n")

	os.Exit(m.Run())
}

// Every run uses the same passphrase so that identities backed up by an
// earlier run restore instead of failing the prompt.
const passphrase = "integration passphrase"

type answer struct{ pass string }

func (a answer) NewPassphrase(ctx context.Context, reason e2ee.PromptReason) (string, string, error) {
	return a.pass, a.pass, nil
}

func (a answer) Passphrase(ctx context.Context, attempt int, lastErr error) (e2ee.PromptResult, error) {
	return e2ee.PromptResult{Action: e2ee.ActionSubmit, Passphrase: a.pass}, nil
}

func newClient(t *testing.T, account, token, storePath string, opts ...e2ee.Option) *e2ee.Client {
	t.Helper()

	store, err := e2ee.OpenKeyStore(storePath, time.Second)
	if err != nil {
		t.Fatalf("OpenKeyStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	opts = append([]e2ee.Option{
		e2ee.WithServer(baseURL, token),
		e2ee.WithTimeout(30 * time.Second),
		e2ee.WithKeyStore(store),
		e2ee.WithPrompter(answer{passphrase}),
		e2ee.WithRetryPolicy(e2ee.RetryPolicy{MaxAttempts: 1}),
	}, opts...)

	client, err := e2ee.New(account, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func TestIntegration_DMRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	alice := newClient(t, "alice", aliceToken, filepath.Join(dir, "alice.db"))
	bob := newClient(t, "bob", bobToken, filepath.Join(dir, "bob.db"))

	aliceSession, err := alice.EnsureIdentity(ctx)
	if err != nil {
		t.Fatalf("alice EnsureIdentity() error = %v", err)
	}
	bobSession, err := bob.EnsureIdentity(ctx)
	if err != nil {
		t.Fatalf("bob EnsureIdentity() error = %v", err)
	}
	t.Logf("alice=%s bob=%s", aliceSession.Fingerprint(), bobSession.Fingerprint())

	data, err := alice.SendDM(ctx, bobSession.Sub(), []byte("hello over the wire"))
	if err != nil {
		t.Fatalf("SendDM() error = %v", err)
	}

	msg, err := bob.Open("integration-dm", data)
	if err != nil {
		t.Fatalf("bob Open() error = %v", err)
	}
	if string(msg.Plaintext) != "hello over the wire" {
		t.Errorf("Plaintext = %q", msg.Plaintext)
	}

	own, err := alice.Open("integration-dm", data)
	if err != nil {
		t.Fatalf("alice Open() error = %v", err)
	}
	if !own.Outgoing {
		t.Error("sender copy should be Outgoing")
	}
}

func TestIntegration_PeerKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	alice := newClient(t, "alice", aliceToken, filepath.Join(dir, "alice.db"))
	bob := newClient(t, "bob", bobToken, filepath.Join(dir, "bob.db"))

	bobSession, err := bob.EnsureIdentity(ctx)
	if err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}
	if _, err := alice.EnsureIdentity(ctx); err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}

	rec, err := alice.PeerKey(ctx, bobSession.Sub())
	if err != nil {
		t.Fatalf("PeerKey() error = %v", err)
	}
	if rec.PublicKey != bobSession.PublicKeyHex() {
		t.Errorf("PeerKey = %s, want %s", rec.PublicKey, bobSession.PublicKeyHex())
	}

	_, err = alice.PeerKey(ctx, "no-such-user-"+time.Now().Format("150405.000"))
	if !errors.Is(err, e2ee.ErrPeerNotFound) {
		t.Errorf("PeerKey(unknown) error = %v, want ErrPeerNotFound", err)
	}
}

func TestIntegration_RestoreOnSecondDevice(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newClient(t, "alice", aliceToken, filepath.Join(dir, "first.db"))
	s1, err := first.EnsureIdentity(ctx)
	if err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}
	if err := first.CreateBackup(ctx, passphrase); err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}

	second := newClient(t, "alice", aliceToken, filepath.Join(dir, "second.db"))
	s2, err := second.EnsureIdentity(ctx)
	if err != nil {
		t.Fatalf("second EnsureIdentity() error = %v", err)
	}
	if s2.Fingerprint() != s1.Fingerprint() {
		t.Errorf("restored fingerprint = %s, want %s", s2.Fingerprint(), s1.Fingerprint())
	}
}
