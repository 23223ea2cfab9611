// Package keystore persists the local identity keypair of each account.
//
// A [Store] holds at most one [Record] per account. Callers serialize writes
// through a single owner; the stores only guarantee that each Load and Save
// is atomic.
package keystore

import (
	"bytes"
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Load when no keypair is stored for the account.
	ErrNotFound = errors.New("keystore: no keypair for account")

	// ErrInvalidRecord is returned when saving a record without an account id
	// or key material.
	ErrInvalidRecord = errors.New("keystore: invalid record")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keystore: closed")
)

// Record is the stored identity of one account on this device.
type Record struct {
	AccountID  string    `cbor:"1,keyasint"`
	PrivateKey []byte    `cbor:"2,keyasint"`
	PublicKey  []byte    `cbor:"3,keyasint"`
	Epoch      uint64    `cbor:"4,keyasint"`
	Published  bool      `cbor:"5,keyasint"`
	UpdatedAt  time.Time `cbor:"6,keyasint"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PrivateKey = bytes.Clone(r.PrivateKey)
	c.PublicKey = bytes.Clone(r.PublicKey)
	return &c
}

func (r *Record) validate() error {
	if r == nil || r.AccountID == "" {
		return ErrInvalidRecord
	}
	if len(r.PrivateKey) == 0 {
		return ErrInvalidRecord
	}
	return nil
}

// Store is per-account keypair persistence.
type Store interface {
	// Load returns the record for accountID or ErrNotFound.
	Load(ctx context.Context, accountID string) (*Record, error)
	// Save replaces the record for r.AccountID.
	Save(ctx context.Context, r *Record) error
	// Delete removes the record for accountID. Deleting a missing record is not an error.
	Delete(ctx context.Context, accountID string) error
	// Close releases resources held by the store.
	Close() error
}
