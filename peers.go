package e2ee

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

type cachedPeer struct {
	record    PublicKeyRecord
	publicKey []byte
	fetchedAt time.Time
}

// peerKeys resolves peer public keys for sending. Every lookup asks the
// directory first; a key fetched earlier is used only while the directory
// is unavailable and only within ttl.
type peerKeys struct {
	dir    Directory
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	peers map[string]*cachedPeer
}

func newPeerKeys(dir Directory, ttl time.Duration, logger zerolog.Logger) *peerKeys {
	return &peerKeys{
		dir:    dir,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		peers:  make(map[string]*cachedPeer),
	}
}

// lookup returns the current public key of sub.
func (p *peerKeys) lookup(ctx context.Context, sub string) (*PublicKeyRecord, []byte, error) {
	rec, err := p.dir.GetPublicKey(ctx, sub)
	if err == nil {
		var pub []byte
		pub, err = crypto.PublicKeyFromHex(rec.PublicKey)
		if err == nil {
			p.store(sub, rec, pub)
			return rec, pub, nil
		}
		err = errors.Join(ErrDirectoryUnavailable, err)
	}

	err = wrapError(err)
	if errors.Is(err, ErrDirectoryUnavailable) {
		if c, ok := p.fallback(sub); ok {
			p.logger.Warn().Err(err).Str("sub", sub).
				Time("fetched_at", c.fetchedAt).
				Msg("directory unavailable, using cached peer key")
			rec := c.record
			return &rec, c.publicKey, nil
		}
	}
	if errors.Is(err, ErrPeerNotFound) {
		p.forget(sub)
	}
	return nil, nil, &DirectoryError{Op: "lookup", Sub: sub, Err: err}
}

// lookupUsername resolves a username to its directory entry. There is no
// fallback: without a reachable directory the username cannot be mapped
// to a sub. The result is remembered under its sub.
func (p *peerKeys) lookupUsername(ctx context.Context, username string) (*PublicKeyRecord, error) {
	rec, err := p.dir.GetPublicKeyByUsername(ctx, username)
	if err == nil {
		var pub []byte
		if pub, err = crypto.PublicKeyFromHex(rec.PublicKey); err == nil && rec.Sub != "" {
			p.store(rec.Sub, rec, pub)
			return rec, nil
		}
		if err == nil {
			err = errors.New("directory entry has no sub")
		}
		err = errors.Join(ErrDirectoryUnavailable, err)
	}
	return nil, &DirectoryError{Op: "lookup username", Sub: username, Err: wrapError(err)}
}

func (p *peerKeys) store(sub string, rec *PublicKeyRecord, pub []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[sub] = &cachedPeer{record: *rec, publicKey: pub, fetchedAt: p.now()}
}

func (p *peerKeys) fallback(sub string) (*cachedPeer, bool) {
	if p.ttl <= 0 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.peers[sub]
	if !ok || p.now().Sub(c.fetchedAt) > p.ttl {
		return nil, false
	}
	return c, true
}

func (p *peerKeys) forget(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, sub)
}

func (p *peerKeys) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = make(map[string]*cachedPeer)
}
