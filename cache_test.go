package e2ee

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

func newTestCache(t *testing.T, size int) *plaintextCache {
	t.Helper()
	m, err := newMetrics(nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := newPlaintextCache(size, m)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestPlaintextCache_EpochIsolation(t *testing.T) {
	c := newTestCache(t, 8)
	c.putMessage("m1", 1, &Message{ID: "m1", Plaintext: []byte("hi")}, nil)

	if _, ok := c.lookup("m1", 1); !ok {
		t.Fatal("lookup() miss for the same epoch")
	}
	if got := c.state("m1", 2); got != MessageNotAttempted {
		t.Errorf("state() for another epoch = %v", got)
	}
	if _, ok := c.lookup("m1", 2); ok {
		t.Error("lookup() served an entry from an older epoch")
	}
	if c.len() != 0 {
		t.Error("stale entry should be dropped on lookup")
	}
}

func TestPlaintextCache_FailuresAreNotHits(t *testing.T) {
	c := newTestCache(t, 8)
	c.putMessage("m1", 1, nil, &DecryptError{ID: "m1", Err: crypto.ErrDecryptionFailed})

	if _, ok := c.lookup("m1", 1); ok {
		t.Error("failed entry returned as a hit")
	}
	if got := c.state("m1", 1); got != MessageFailed {
		t.Errorf("state() = %v, want %v", got, MessageFailed)
	}
}

func TestPlaintextCache_Evicts(t *testing.T) {
	c := newTestCache(t, 2)
	for i := range 3 {
		c.putBytes(fmt.Sprintf("m%d", i), 1, []byte("x"), nil)
	}
	if c.len() != 2 {
		t.Errorf("len() = %d, want 2", c.len())
	}
	if got := c.state("m0", 1); got != MessageNotAttempted {
		t.Errorf("oldest entry state = %v, want evicted", got)
	}
}

func TestPlaintextCache_Purge(t *testing.T) {
	c := newTestCache(t, 8)
	c.putBytes("a", 1, []byte("x"), nil)
	c.putBytes("b", 1, []byte("y"), nil)
	c.purge()
	if c.len() != 0 {
		t.Errorf("len() after purge = %d", c.len())
	}
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want MessageState
	}{
		{"nil", nil, MessageDecrypted},
		{"unparseable", fmt.Errorf("x: %w", ErrUnparseable), MessageUnreadable},
		{"not recipient", &DecryptError{Err: crypto.ErrNotRecipient}, MessageNotRecipient},
		{"decrypt", &DecryptError{Err: crypto.ErrDecryptionFailed}, MessageFailed},
		{"other", errors.New("x"), MessageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateOf(tt.err); got != tt.want {
				t.Errorf("stateOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageState_String(t *testing.T) {
	tests := []struct {
		s    MessageState
		want string
	}{
		{MessageNotAttempted, "not_attempted"},
		{MessageDecrypted, "decrypted"},
		{MessageFailed, "failed"},
		{MessageNotRecipient, "not_recipient"},
		{MessageUnreadable, "unreadable"},
		{MessageState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
