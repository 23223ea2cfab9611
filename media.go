package e2ee

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
	"github.com/vaultsandbox/e2ee-go/internal/envelope"
)

// SealedAttachment is an encrypted attachment ready for upload. File and
// Thumbnail are stored at Info.Path and Info.ThumbPath; Envelope travels
// with the message.
type SealedAttachment struct {
	Envelope  []byte
	Info      MediaInfo
	File      []byte
	Thumbnail []byte
}

func sealed(sm *crypto.SealedMedia) (*SealedAttachment, error) {
	data, err := envelope.Encode(sm.Envelope)
	if err != nil {
		return nil, err
	}
	return &SealedAttachment{
		Envelope:  data,
		Info:      sm.Envelope.Media,
		File:      sm.File,
		Thumbnail: sm.Thumbnail,
	}, nil
}

// SealAttachment encrypts file and an optional thumbnail for toSub.
// Both blobs share one content key under different nonces.
func (c *Client) SealAttachment(ctx context.Context, toSub string, info MediaInfo, file, thumbnail []byte) (*SealedAttachment, error) {
	s, err := c.sendSession()
	if err != nil {
		return nil, err
	}

	recipient := s.PublicKey()
	if toSub != s.Sub() {
		_, recipient, err = c.peers.lookup(ctx, toSub)
		if err != nil {
			return nil, err
		}
	}

	sm, err := crypto.EncryptMediaForPeer(info, file, thumbnail, s.privateKey(), recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypt attachment: %w", err)
	}
	return sealed(sm)
}

// SealGroupAttachment encrypts an attachment for the caller and every
// member in memberSubs.
func (c *Client) SealGroupAttachment(ctx context.Context, memberSubs []string, info MediaInfo, file, thumbnail []byte) (*SealedAttachment, error) {
	s, err := c.sendSession()
	if err != nil {
		return nil, err
	}
	members, err := c.resolveMembers(ctx, s, memberSubs)
	if err != nil {
		return nil, err
	}

	sm, err := crypto.EncryptMediaForGroup(info, file, thumbnail, s.privateKey(), members)
	if err != nil {
		return nil, fmt.Errorf("encrypt attachment: %w", err)
	}
	return sealed(sm)
}

// Attachment is an opened attachment envelope holding its content key.
// The thumbnail and file are decrypted independently and only on request.
type Attachment struct {
	ID   string
	Info MediaInfo

	c     *Client
	env   *envelope.Media
	key   []byte
	epoch KeyEpoch
}

// OpenAttachment unwraps the content key of an attachment envelope. No
// ciphertext blob is needed yet.
func (c *Client) OpenAttachment(id string, data []byte) (*Attachment, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	s := c.identity.current()
	if s == nil {
		return nil, ErrNoIdentity
	}

	env, err := envelope.Decode(data)
	if err != nil {
		c.metrics.decrypted(KindMedia, err)
		return nil, err
	}
	media, ok := env.(*envelope.Media)
	if !ok {
		return nil, fmt.Errorf("message %q is not an attachment (kind %q)", id, env.EnvelopeKind())
	}

	key, err := crypto.OpenMediaKey(media, s.privateKey(), s.Sub())
	if err != nil {
		err = &DecryptError{ID: id, Kind: KindMedia, Err: err}
	}
	c.metrics.decrypted(KindMedia, err)
	if err != nil {
		return nil, err
	}

	return &Attachment{
		ID:    id,
		Info:  media.Media,
		c:     c,
		env:   media,
		key:   key,
		epoch: s.Epoch(),
	}, nil
}

// HasThumbnail reports whether the attachment carries a thumbnail.
func (a *Attachment) HasThumbnail() bool {
	return a.env.Wrap.ThumbNonce != ""
}

// Thumbnail decrypts the thumbnail blob. The plaintext is cached by
// attachment id for the current key epoch.
func (a *Attachment) Thumbnail(ciphertext []byte) ([]byte, error) {
	id := a.ID + "#thumb"
	if a.ID != "" {
		if e, ok := a.c.cache.lookup(id, a.epoch); ok {
			return bytes.Clone(e.plaintext), nil
		}
	}

	pt, err := crypto.OpenThumbnail(a.env, a.key, ciphertext)
	if err != nil {
		err = decryptErr(a.ID, err)
	}
	if a.ID != "" {
		a.c.cache.putBytes(id, a.epoch, pt, err)
	}
	return pt, err
}

// File decrypts the full file blob. It is never cached.
func (a *Attachment) File(ciphertext []byte) ([]byte, error) {
	pt, err := crypto.OpenFile(a.env, a.key, ciphertext)
	if err != nil {
		return nil, decryptErr(a.ID, err)
	}
	return pt, nil
}

// FetchFile retrieves the file ciphertext with fetch and decrypts it.
func (a *Attachment) FetchFile(ctx context.Context, fetch func(ctx context.Context, path string) ([]byte, error)) ([]byte, error) {
	ct, err := fetch(ctx, a.Info.Path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", a.Info.Path, err)
	}
	return a.File(ct)
}

// Close wipes the content key.
func (a *Attachment) Close() {
	clear(a.key)
}

func decryptErr(id string, err error) error {
	if errors.Is(err, crypto.ErrInvalidEnvelope) && !errors.Is(err, crypto.ErrDecryptionFailed) {
		return fmt.Errorf("attachment %q: %w", id, err)
	}
	return &DecryptError{ID: id, Kind: KindMedia, Err: err}
}
