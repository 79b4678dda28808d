// Package tokenstore persists access tokens between process runs.
//
// Records are keyed by credential source and scope identity. Backends
// guarantee that a reader never observes a partially written record: it
// sees either the previous record or the new one.
package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
)

const appDirName = "meta-ads-mcp"

// Store is the credential store contract shared by all backends.
// Load returns an error wrapping ErrNotFound for both absent and
// unreadable records; callers treat either as a cache miss.
type Store interface {
	Load(ctx context.Context, key Key) (*models.TokenRecord, error)
	Save(ctx context.Context, key Key, rec *models.TokenRecord) error
	Clear(ctx context.Context, key Key) error
}

// Key addresses one record: at most one token per source and identity.
type Key struct {
	Source   models.Source
	Identity string
}

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// BrokerKey returns the key for a token issued against a broker API key.
// The raw API key is never used as an identifier on disk.
func BrokerKey(apiKey string) Key {
	return Key{Source: models.SourceBroker, Identity: HashIdentity(apiKey)}
}

// AppKey returns the key for a token obtained through a Meta app.
func AppKey(appID string) Key {
	return Key{Source: models.SourceDirectOAuth, Identity: appID}
}

// HashIdentity derives a stable, filesystem safe identity from a secret.
func HashIdentity(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:8])
}

// String returns the canonical "<source>/<identity>" form.
func (k Key) String() string {
	return string(k.Source) + "/" + k.Identity
}

// Validate rejects keys that could escape the store directory.
func (k Key) Validate() error {
	if !k.Source.Valid() || k.Source == models.SourceExplicit {
		return fmt.Errorf("invalid token source %q", k.Source)
	}
	if k.Identity == "." || k.Identity == ".." || !identityPattern.MatchString(k.Identity) {
		return fmt.Errorf("invalid token identity %q", k.Identity)
	}
	return nil
}

// StoreError reports an I/O failure in a durable backend.
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("token store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{apperrors.ErrCredentialStore, e.Err}
}

func notFound(key Key) error {
	return fmt.Errorf("%s: %w", key, apperrors.ErrNotFound)
}

// DefaultDir returns the per-user application data directory for the
// current platform.
func DefaultDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName), nil
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", appDirName), nil
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}
