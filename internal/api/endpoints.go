package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vaultsandbox/e2ee-go/internal/apierrors"
	"github.com/vaultsandbox/e2ee-go/internal/crypto"
)

// GetPublicKey fetches the current public key of a user by id.
func (c *Client) GetPublicKey(ctx context.Context, sub string) (*PublicKeyRecord, error) {
	var rec PublicKeyRecord
	path := "/v1/users/" + url.PathEscape(sub) + "/public-key"
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourcePublicKey)
	}
	if err := validateRecord(&rec); err != nil {
		return nil, err
	}
	if rec.Sub == "" {
		rec.Sub = sub
	}
	return &rec, nil
}

// GetPublicKeyByUsername fetches the current public key of a user by username.
func (c *Client) GetPublicKeyByUsername(ctx context.Context, username string) (*PublicKeyRecord, error) {
	var rec PublicKeyRecord
	path := "/v1/users/by-username/" + url.PathEscape(username) + "/public-key"
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourcePublicKey)
	}
	if err := validateRecord(&rec); err != nil {
		return nil, err
	}
	if rec.Sub == "" {
		return nil, fmt.Errorf("%w: directory entry for %q has no sub", apierrors.ErrInvalidResponse, username)
	}
	return &rec, nil
}

func validateRecord(rec *PublicKeyRecord) error {
	if _, err := crypto.PublicKeyFromHex(rec.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrInvalidResponse, err)
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now()
	}
	return nil
}

// PublishPublicKey replaces the caller's directory entry.
func (c *Client) PublishPublicKey(ctx context.Context, publicKeyHex string) error {
	err := c.do(ctx, http.MethodPut, "/v1/me/public-key", publishKeyRequest{PublicKey: publicKeyHex}, nil)
	return apierrors.WithResourceType(err, apierrors.ResourcePublicKey)
}

// GetRecoveryBlob fetches the caller's recovery blob. A missing backup is
// reported as an error matching apierrors.ErrRecoveryBlobNotFound.
func (c *Client) GetRecoveryBlob(ctx context.Context) (*crypto.RecoveryBlob, error) {
	var blob crypto.RecoveryBlob
	if err := c.do(ctx, http.MethodGet, "/v1/me/recovery-blob", nil, &blob); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceRecoveryBlob)
	}
	return &blob, nil
}

// PutRecoveryBlob uploads a recovery blob, replacing any existing one.
func (c *Client) PutRecoveryBlob(ctx context.Context, blob *crypto.RecoveryBlob) error {
	err := c.do(ctx, http.MethodPut, "/v1/me/recovery-blob", blob, nil)
	return apierrors.WithResourceType(err, apierrors.ResourceRecoveryBlob)
}
