package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
)

const (
	storeDirPerm  = fs.FileMode(0o700)
	storeFilePerm = fs.FileMode(0o600)

	recordFileName = "token.json"
	tempPattern    = ".token-*.tmp"
)

// FileStore keeps one file per key at <dir>/<source>/<identity>/token.json.
// Writes go to a temp file in the same directory which is synced and
// renamed over the target.
type FileStore struct {
	dir    string
	codec  Codec
	logger *slog.Logger
}

// NewFileStore returns a store rooted at dir. A nil codec means JSON.
func NewFileStore(dir string, codec Codec, logger *slog.Logger) *FileStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &FileStore{dir: dir, codec: codec, logger: logger}
}

// Dir returns the store root.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, string(key.Source), key.Identity, recordFileName)
}

func (s *FileStore) Load(_ context.Context, key Key) (*models.TokenRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, &StoreError{Op: "load", Key: key, Err: err}
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("discarding unreadable token record", slog.String("key", key.String()), slog.String("error", err.Error()))
		return nil, notFound(key)
	}

	return rec, nil
}

func (s *FileStore) Save(_ context.Context, key Key, rec *models.TokenRecord) error {
	if err := key.Validate(); err != nil {
		return err
	}

	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), storeDirPerm); err != nil {
		return &StoreError{Op: "save", Key: key, Err: err}
	}

	if err := writeAtomic(target, data); err != nil {
		return &StoreError{Op: "save", Key: key, Err: err}
	}

	return nil
}

func (s *FileStore) Clear(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StoreError{Op: "clear", Key: key, Err: err}
	}

	return nil
}

// writeAtomic replaces target with data. A crash at any point leaves
// either the old file or the new one; stray temp files are never read.
func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), tempPattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(storeFilePerm); err != nil {
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
