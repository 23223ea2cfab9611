package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const (
	metadataBucket = "metadata"
	keypairsBucket = "keypairs"
	versionKey     = "version"

	schemaVersion byte = 1
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// BoltStore persists records in a bbolt database file, CBOR encoded.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt creates or opens the database at path. Opening blocks for at most
// timeout if another process holds the file lock.
func OpenBolt(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(keypairsBucket)); err != nil {
			return err
		}

		if v := meta.Get([]byte(versionKey)); v != nil {
			if len(v) != 1 || v[0] != schemaVersion {
				return fmt.Errorf("keystore: incompatible schema version %v", v)
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Load implements Store.
func (s *BoltStore) Load(ctx context.Context, accountID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(keypairsBucket)).Get([]byte(accountID))
		if raw == nil {
			return ErrNotFound
		}
		rec = new(Record)
		if err := decMode.Unmarshal(raw, rec); err != nil {
			return fmt.Errorf("keystore: decode record for %s: %w", accountID, err)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return rec, nil
}

// Save implements Store.
func (s *BoltStore) Save(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.validate(); err != nil {
		return err
	}

	raw, err := encMode.Marshal(r)
	if err != nil {
		return fmt.Errorf("keystore: encode record: %w", err)
	}
	return s.mapErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keypairsBucket)).Put([]byte(r.AccountID), raw)
	}))
}

// Delete implements Store.
func (s *BoltStore) Delete(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mapErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keypairsBucket)).Delete([]byte(accountID))
	}))
}

// Accounts lists the account ids with a stored keypair.
func (s *BoltStore) Accounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(keypairsBucket)).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, s.mapErr(err)
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) mapErr(err error) error {
	if errors.Is(err, berrors.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
