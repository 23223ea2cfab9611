package e2ee

import (
	"bytes"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MessageState is the decryption state of a message id.
type MessageState int

const (
	// MessageNotAttempted means no decryption has been tried under the
	// current key epoch.
	MessageNotAttempted MessageState = iota
	// MessageDecrypted means the plaintext is cached.
	MessageDecrypted
	// MessageFailed means decryption was tried and failed.
	MessageFailed
	// MessageNotRecipient means the caller holds no key for the message.
	MessageNotRecipient
	// MessageUnreadable means the bytes are not a supported envelope.
	MessageUnreadable
)

func (s MessageState) String() string {
	switch s {
	case MessageNotAttempted:
		return "not_attempted"
	case MessageDecrypted:
		return "decrypted"
	case MessageFailed:
		return "failed"
	case MessageNotRecipient:
		return "not_recipient"
	case MessageUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

func stateOf(err error) MessageState {
	switch {
	case err == nil:
		return MessageDecrypted
	case errors.Is(err, ErrUnparseable):
		return MessageUnreadable
	case errors.Is(err, ErrNotARecipient):
		return MessageNotRecipient
	default:
		return MessageFailed
	}
}

type cacheEntry struct {
	epoch     KeyEpoch
	state     MessageState
	message   *Message
	plaintext []byte
}

// plaintextCache keeps decrypted content and decryption outcomes by id.
// Entries from an older key epoch are never served.
type plaintextCache struct {
	entries *lru.Cache[string, cacheEntry]
	metrics *metrics
}

func newPlaintextCache(size int, m *metrics) (*plaintextCache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &plaintextCache{entries: c, metrics: m}, nil
}

// lookup returns the entry for id if it holds plaintext from epoch.
func (c *plaintextCache) lookup(id string, epoch KeyEpoch) (cacheEntry, bool) {
	e, ok := c.entries.Get(id)
	if ok && e.epoch != epoch {
		c.entries.Remove(id)
		ok = false
	}
	if ok && e.state == MessageDecrypted {
		c.metrics.cache.WithLabelValues("hit").Inc()
		return e, true
	}
	c.metrics.cache.WithLabelValues("miss").Inc()
	return cacheEntry{}, false
}

func (c *plaintextCache) state(id string, epoch KeyEpoch) MessageState {
	e, ok := c.entries.Peek(id)
	if !ok || e.epoch != epoch {
		return MessageNotAttempted
	}
	return e.state
}

func (c *plaintextCache) putMessage(id string, epoch KeyEpoch, msg *Message, err error) {
	e := cacheEntry{epoch: epoch, state: stateOf(err)}
	if err == nil {
		e.message = msg.clone()
	}
	c.entries.Add(id, e)
}

func (c *plaintextCache) putBytes(id string, epoch KeyEpoch, plaintext []byte, err error) {
	e := cacheEntry{epoch: epoch, state: stateOf(err)}
	if err == nil {
		e.plaintext = bytes.Clone(plaintext)
	}
	c.entries.Add(id, e)
}

func (c *plaintextCache) purge() {
	c.entries.Purge()
}

func (c *plaintextCache) len() int {
	return c.entries.Len()
}
