package e2ee

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
	"github.com/vaultsandbox/e2ee-go/internal/envelope"
)

// Envelope kinds as reported in Message.Kind.
const (
	KindDM    = string(envelope.KindDM)
	KindGroup = string(envelope.KindGroup)
	KindMedia = string(envelope.KindMedia)
)

// Message is a decrypted text message.
type Message struct {
	ID              string
	Kind            string
	Plaintext       []byte
	SenderPublicKey string // hex
	// Outgoing is true when the message was sent with the current key.
	Outgoing bool
	Epoch    KeyEpoch
}

func (m *Message) clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Plaintext = bytes.Clone(m.Plaintext)
	return &c
}

// sendSession returns the session to encrypt with. Sending needs a key the
// directory has confirmed.
func (c *Client) sendSession() (*Session, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	s := c.identity.current()
	if s == nil {
		return nil, ErrNoIdentity
	}
	if !s.Published() {
		return nil, &PublishError{Fingerprint: s.Fingerprint(), Err: fmt.Errorf("key not confirmed by directory")}
	}
	return s, nil
}

// SendDM encrypts plaintext for the user toSub and returns the encoded
// envelope. The recipient's key is fetched from the directory.
func (c *Client) SendDM(ctx context.Context, toSub string, plaintext []byte) ([]byte, error) {
	s, err := c.sendSession()
	if err != nil {
		return nil, err
	}

	var recipient []byte
	if toSub == s.Sub() {
		recipient = s.PublicKey()
	} else {
		_, recipient, err = c.peers.lookup(ctx, toSub)
		if err != nil {
			return nil, err
		}
	}

	env, err := crypto.EncryptDM(plaintext, s.privateKey(), recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypt dm: %w", err)
	}
	return envelope.Encode(env)
}

// SendGroup encrypts plaintext once and wraps the content key to every
// member in memberSubs plus the caller. The wraps reflect membership at
// this call; members added later cannot read the message.
func (c *Client) SendGroup(ctx context.Context, memberSubs []string, plaintext []byte) ([]byte, error) {
	s, err := c.sendSession()
	if err != nil {
		return nil, err
	}
	members, err := c.resolveMembers(ctx, s, memberSubs)
	if err != nil {
		return nil, err
	}

	env, err := crypto.EncryptGroup(plaintext, s.privateKey(), members)
	if err != nil {
		return nil, fmt.Errorf("encrypt group message: %w", err)
	}
	return envelope.Encode(env)
}

// resolveMembers looks up every member key. Any missing key blocks the send.
func (c *Client) resolveMembers(ctx context.Context, s *Session, subs []string) ([]crypto.Member, error) {
	members := make([]crypto.Member, 0, len(subs)+1)
	members = append(members, crypto.Member{Sub: s.Sub(), PublicKey: s.PublicKey()})
	seen := map[string]bool{s.Sub(): true}

	for _, sub := range subs {
		if seen[sub] {
			continue
		}
		seen[sub] = true

		_, pub, err := c.peers.lookup(ctx, sub)
		if err != nil {
			return nil, err
		}
		members = append(members, crypto.Member{Sub: sub, PublicKey: pub})
	}
	return members, nil
}

// Open decrypts a DM or group envelope. Results are cached by id for the
// current key epoch; an empty id disables caching. Failures are typed:
// ErrUnparseable for bytes that are not an envelope, ErrNotARecipient and
// ErrDecryptFailed otherwise.
func (c *Client) Open(id string, data []byte) (*Message, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	s := c.identity.current()
	if s == nil {
		return nil, ErrNoIdentity
	}

	if id != "" {
		if e, ok := c.cache.lookup(id, s.Epoch()); ok {
			return e.message.clone(), nil
		}
	}

	kind, msg, err := c.openMessage(s, id, data)
	if kind == KindMedia {
		return nil, err
	}
	c.metrics.decrypted(kind, err)
	if err != nil {
		c.logger.Debug().Err(err).Str("id", id).Str("kind", kind).Msg("open message failed")
	}
	if id != "" {
		c.cache.putMessage(id, s.Epoch(), msg, err)
	}
	if err != nil {
		return nil, err
	}
	return msg.clone(), nil
}

func (c *Client) openMessage(s *Session, id string, data []byte) (string, *Message, error) {
	env, err := envelope.Decode(data)
	if err != nil {
		return "unknown", nil, err
	}

	msg := &Message{ID: id, Epoch: s.Epoch()}
	switch e := env.(type) {
	case *envelope.DM:
		msg.Kind = KindDM
		msg.SenderPublicKey = e.SenderPublicKey
		msg.Plaintext, err = crypto.DecryptDM(e, s.privateKey())
	case *envelope.Group:
		msg.Kind = KindGroup
		msg.SenderPublicKey = e.SenderPublicKey
		msg.Plaintext, err = crypto.DecryptGroup(e, s.privateKey(), s.Sub())
	case *envelope.Media:
		return KindMedia, nil, fmt.Errorf("message %q is an attachment, use OpenAttachment", id)
	case *envelope.Unknown:
		return "unknown", nil, fmt.Errorf("%w: unsupported envelope kind %q", ErrUnparseable, e.Kind)
	default:
		return "unknown", nil, fmt.Errorf("%w: unexpected envelope %T", ErrUnparseable, env)
	}
	if err != nil {
		return msg.Kind, nil, &DecryptError{ID: id, Kind: msg.Kind, Err: err}
	}

	msg.Outgoing = strings.EqualFold(msg.SenderPublicKey, s.PublicKeyHex())
	return msg.Kind, msg, nil
}

// State reports the decryption state of id under the current key epoch
// without decrypting anything.
func (c *Client) State(id string) MessageState {
	s := c.identity.current()
	if s == nil {
		return MessageNotAttempted
	}
	return c.cache.state(id, s.Epoch())
}
