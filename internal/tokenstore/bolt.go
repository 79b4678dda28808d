package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// BoltFileName is the database file created inside the store directory.
	BoltFileName = "tokens.db"

	// boltOpenTimeout is the maximum time to wait for the bolt file lock.
	boltOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("tokens")

// BoltStore keeps all records in a single bbolt database. The bolt file
// lock gives this process exclusive access; each write is one
// transaction.
type BoltStore struct {
	db     *bolt.DB
	codec  Codec
	logger *slog.Logger
}

// OpenBolt opens (or creates) tokens.db inside dir.
func OpenBolt(dir string, codec Codec, logger *slog.Logger) (*BoltStore, error) {
	return OpenBoltAt(filepath.Join(dir, BoltFileName), codec, logger)
}

// OpenBoltAt opens a database at the given path. Useful for tests that
// need an isolated database.
func OpenBoltAt(path string, codec Codec, logger *slog.Logger) (*BoltStore, error) {
	if codec == nil {
		codec = JSONCodec{}
	}

	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening token db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing token db: %w", err)
	}

	return &BoltStore{db: db, codec: codec, logger: logger}, nil
}

// Close closes the database and releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(_ context.Context, key Key) (*models.TokenRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(key.String()))
		if v != nil {
			// v is only valid for the life of the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "load", Key: key, Err: err}
	}

	if data == nil {
		return nil, notFound(key)
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("discarding unreadable token record", slog.String("key", key.String()), slog.String("error", err.Error()))
		return nil, notFound(key)
	}

	return rec, nil
}

func (s *BoltStore) Save(_ context.Context, key Key, rec *models.TokenRecord) error {
	if err := key.Validate(); err != nil {
		return err
	}

	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(key.String()), data)
	})
	if err != nil {
		return &StoreError{Op: "save", Key: key, Err: err}
	}

	return nil
}

func (s *BoltStore) Clear(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(key.String()))
	})
	if err != nil {
		return &StoreError{Op: "clear", Key: key, Err: err}
	}

	return nil
}
