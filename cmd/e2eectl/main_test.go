package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

type testEnv struct {
	dir  string
	vars map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		dir: dir,
		vars: map[string]string{
			"E2EE_STORE_PATH": filepath.Join(dir, "keys.db"),
			"E2EE_LOG_LEVEL":  "error",
			// Cheap KDF for tests comes from the config file below.
		},
	}
}

func (e *testEnv) writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(e.dir, "config.yaml")
	cfg := "recovery:\n  kdf: scrypt\n  scryptN: 1024\n  scryptR: 8\n  scryptP: 1\n" + extra
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// exec runs the tool and returns stdout.
func (e *testEnv) exec(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cfg := Config{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
		Getenv: func(k string) string { return e.vars[k] },
	}
	err := run(append([]string{"e2eectl"}, args...), cfg)
	return stdout.String(), err
}

func (e *testEnv) mustExec(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := e.exec(t, stdin, args...)
	if err != nil {
		t.Fatalf("e2eectl %v: %v", args, err)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Stdin != os.Stdin {
		t.Error("DefaultConfig().Stdin should be os.Stdin")
	}
	if cfg.Stdout != os.Stdout {
		t.Error("DefaultConfig().Stdout should be os.Stdout")
	}
	if cfg.Stderr != os.Stderr {
		t.Error("DefaultConfig().Stderr should be os.Stderr")
	}
	if cfg.Getenv == nil {
		t.Error("DefaultConfig().Getenv should be set")
	}
}

func TestKeygenPubkeyFingerprint(t *testing.T) {
	env := newTestEnv(t)

	pub := strings.TrimSpace(env.mustExec(t, "", "--account", "alice", "keygen"))
	if _, err := crypto.PublicKeyFromHex(pub); err != nil {
		t.Fatalf("keygen printed %q: %v", pub, err)
	}

	if got := strings.TrimSpace(env.mustExec(t, "", "--account", "alice", "pubkey")); got != pub {
		t.Errorf("pubkey = %q, want %q", got, pub)
	}

	rawPub, _ := crypto.PublicKeyFromHex(pub)
	want := crypto.Fingerprint(rawPub)
	if got := strings.TrimSpace(env.mustExec(t, "", "--account", "alice", "fingerprint")); got != want {
		t.Errorf("fingerprint = %q, want %q", got, want)
	}
	if got := strings.TrimSpace(env.mustExec(t, "", "fingerprint", pub)); got != want {
		t.Errorf("fingerprint <hex> = %q, want %q", got, want)
	}

	if _, err := env.exec(t, "", "--account", "alice", "keygen"); !errors.Is(err, errHasKeypair) {
		t.Errorf("second keygen error = %v, want errHasKeypair", err)
	}
	if _, err := env.exec(t, "", "--account", "alice", "keygen", "--force"); err == nil {
		t.Error("keygen --force should be rejected")
	}
	if got := strings.TrimSpace(env.mustExec(t, "", "--account", "alice", "pubkey")); got != pub {
		t.Errorf("pubkey after rejected keygen = %q, want %q", got, pub)
	}
}

func TestCommands_RequireAccount(t *testing.T) {
	env := newTestEnv(t)
	for _, args := range [][]string{{"keygen"}, {"pubkey"}, {"recovery", "create"}} {
		env.vars["E2EE_PASSPHRASE"] = "x"
		if _, err := env.exec(t, "", args...); err == nil {
			t.Errorf("%v without account should fail", args)
		}
	}
}

func TestPubkey_NoKey(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.exec(t, "", "--account", "nobody", "pubkey")
	if err == nil || !strings.Contains(err.Error(), "run keygen first") {
		t.Errorf("err = %v, want hint to run keygen", err)
	}
}

func TestDM_EncryptDecrypt(t *testing.T) {
	env := newTestEnv(t)
	alicePub := strings.TrimSpace(env.mustExec(t, "", "--account", "alice", "keygen"))
	bobPub := strings.TrimSpace(env.mustExec(t, "", "--account", "bob", "keygen"))

	envelopeJSON := env.mustExec(t, "hi", "--account", "alice", "dm", "encrypt", "--to", bobPub)

	var probe map[string]any
	if err := json.Unmarshal([]byte(envelopeJSON), &probe); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if probe["kind"] != "dm" || probe["senderPublicKey"] != alicePub {
		t.Errorf("envelope = %v", probe)
	}

	if got := env.mustExec(t, envelopeJSON, "--account", "bob", "dm", "decrypt"); got != "hi" {
		t.Errorf("bob decrypt = %q, want %q", got, "hi")
	}
	if got := env.mustExec(t, envelopeJSON, "--account", "alice", "dm", "decrypt"); got != "hi" {
		t.Errorf("alice decrypt = %q, want %q", got, "hi")
	}

	env.mustExec(t, "", "--account", "carol", "keygen")
	if _, err := env.exec(t, envelopeJSON, "--account", "carol", "dm", "decrypt"); err == nil {
		t.Error("third party decrypt should fail")
	}

	if _, err := env.exec(t, "not json", "--account", "bob", "dm", "decrypt"); err == nil {
		t.Error("garbage envelope should fail")
	}
	if _, err := env.exec(t, "hi", "--account", "alice", "dm", "encrypt", "--to", "zz"); err == nil {
		t.Error("bad --to should fail")
	}
}

func TestRecovery_CreateRestore(t *testing.T) {
	env := newTestEnv(t)
	cfgPath := env.writeConfig(t, "")
	env.vars["E2EE_PASSPHRASE"] = "correct horse"

	pub := strings.TrimSpace(env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "keygen"))
	blob := env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "recovery", "create")
	if strings.Contains(blob, pub) {
		t.Error("recovery blob should not contain the public key")
	}

	// Restore on a "new device": a separate store.
	env.vars["E2EE_STORE_PATH"] = filepath.Join(env.dir, "device2.db")

	env.vars["E2EE_PASSPHRASE"] = "wrong"
	if _, err := env.exec(t, blob, "-c", cfgPath, "--account", "alice", "recovery", "restore"); err == nil {
		t.Fatal("restore with wrong passphrase should fail")
	}

	passFile := filepath.Join(env.dir, "pass.txt")
	if err := os.WriteFile(passFile, []byte("correct horse\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(env.mustExec(t, blob, "-c", cfgPath, "--account", "alice", "--passphrase-file", passFile, "recovery", "restore"))
	if got != pub {
		t.Errorf("restored public key = %q, want %q", got, pub)
	}
	if got := strings.TrimSpace(env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "pubkey")); got != pub {
		t.Errorf("pubkey after restore = %q, want %q", got, pub)
	}

	// Restoring the same key again is a no-op.
	if got := strings.TrimSpace(env.mustExec(t, blob, "-c", cfgPath, "--account", "alice", "--passphrase-file", passFile, "recovery", "restore")); got != pub {
		t.Errorf("second restore = %q, want %q", got, pub)
	}
}

func TestRecovery_RestoreDoesNotReplaceOtherKey(t *testing.T) {
	env := newTestEnv(t)
	cfgPath := env.writeConfig(t, "")
	env.vars["E2EE_PASSPHRASE"] = "pw"

	env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "keygen")
	blob := env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "recovery", "create")

	env.vars["E2EE_STORE_PATH"] = filepath.Join(env.dir, "device2.db")
	current := strings.TrimSpace(env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "keygen"))

	_, err := env.exec(t, blob, "-c", cfgPath, "--account", "alice", "recovery", "restore")
	if !errors.Is(err, errHasKeypair) {
		t.Fatalf("restore over another key error = %v, want errHasKeypair", err)
	}
	if !strings.Contains(err.Error(), "identity --reset") {
		t.Errorf("error %q should point to identity --reset", err)
	}
	if _, err := env.exec(t, blob, "-c", cfgPath, "--account", "alice", "recovery", "restore", "--force"); err == nil {
		t.Error("restore --force should be rejected")
	}
	if got := strings.TrimSpace(env.mustExec(t, "", "-c", cfgPath, "--account", "alice", "pubkey")); got != current {
		t.Errorf("pubkey = %q, want unchanged %q", got, current)
	}
}

func TestRecovery_EmptyPassphrase(t *testing.T) {
	env := newTestEnv(t)
	env.mustExec(t, "", "--account", "alice", "keygen")
	if _, err := env.exec(t, "", "--account", "alice", "recovery", "create"); err == nil {
		t.Error("recovery create without passphrase should fail")
	}
}

func TestPassword_HashVerify(t *testing.T) {
	env := newTestEnv(t)

	hash := strings.TrimSpace(env.mustExec(t, "s3cret\n", "password", "hash"))
	if !strings.HasPrefix(hash, "scrypt$") {
		t.Fatalf("hash = %q, want scrypt$ prefix", hash)
	}
	if got := strings.TrimSpace(env.mustExec(t, "s3cret\n", "password", "verify", hash)); got != "ok" {
		t.Errorf("verify = %q, want ok", got)
	}
	if _, err := env.exec(t, "other\n", "password", "verify", hash); err == nil {
		t.Error("verify with wrong password should fail")
	}
	if _, err := env.exec(t, "s3cret\n", "password", "verify", "garbage"); err == nil {
		t.Error("verify against malformed hash should fail")
	}
}

func TestPassphrase(t *testing.T) {
	env := newTestEnv(t)
	out := strings.TrimSpace(env.mustExec(t, "", "passphrase"))
	if n := len(strings.Fields(out)); n != 12 {
		t.Errorf("passphrase has %d words, want 12", n)
	}
}

func TestConfig_Errors(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.exec(t, "", "-c", filepath.Join(env.dir, "missing.yaml"), "passphrase"); err == nil {
		t.Error("missing config file should fail")
	}
	bad := env.writeConfig(t, "log:\n  format: xml\n")
	if _, err := env.exec(t, "", "-c", bad, "passphrase"); err == nil {
		t.Error("invalid config should fail")
	}
}

// directoryStub is a minimal directory and recovery store.
type directoryStub struct {
	mu   sync.Mutex
	keys map[string]string
	blob []byte
}

func (d *directoryStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/v1/me/public-key":
		var body struct {
			PublicKey string `json:"publicKey"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		d.keys["me"] = body.PublicKey
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/me/recovery-blob":
		if d.blob == nil {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(d.blob)
	case r.Method == http.MethodPut && r.URL.Path == "/v1/me/recovery-blob":
		d.blob, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func TestIdentity_AgainstDirectory(t *testing.T) {
	stub := &directoryStub{keys: map[string]string{}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	env := newTestEnv(t)
	cfgPath := env.writeConfig(t, "directory:\n  maxRetries: 0\n")
	env.vars["E2EE_DIRECTORY_URL"] = srv.URL
	env.vars["E2EE_TOKEN"] = "token"

	// New identity; accept the backup offer.
	out := env.mustExec(t, "pw\npw\n", "-c", cfgPath, "--account", "alice", "identity")
	if !strings.Contains(out, "epoch:       1") {
		t.Errorf("output = %q, want epoch 1", out)
	}
	stub.mu.Lock()
	published, blob := stub.keys["me"], stub.blob
	stub.mu.Unlock()
	if published == "" || !strings.Contains(out, published) {
		t.Errorf("published key %q not in output %q", published, out)
	}
	if blob == nil {
		t.Fatal("backup was not uploaded")
	}

	// Second device restores with the passphrase.
	env.vars["E2EE_STORE_PATH"] = filepath.Join(env.dir, "device2.db")
	out = env.mustExec(t, "wrong\npw\n", "-c", cfgPath, "--account", "alice", "identity")
	if !strings.Contains(out, published) {
		t.Errorf("restored output %q does not contain %q", out, published)
	}

	// Cancelling on a third device leaves no key behind.
	env.vars["E2EE_STORE_PATH"] = filepath.Join(env.dir, "device3.db")
	if _, err := env.exec(t, "\n", "-c", cfgPath, "--account", "alice", "identity"); err == nil {
		t.Error("cancelled recovery should fail")
	}
	if _, err := env.exec(t, "", "-c", cfgPath, "--account", "alice", "pubkey"); err == nil {
		t.Error("cancelled recovery should not store a key")
	}
}

func TestIdentity_RequiresDirectory(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.exec(t, "", "--account", "alice", "identity"); err == nil {
		t.Error("identity without directory.url should fail")
	}
}
