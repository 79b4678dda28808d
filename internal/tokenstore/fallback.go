package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
)

// Fallback wraps a durable store. The first I/O failure switches the
// process to an in-memory store for the rest of its life; tokens keep
// working but are no longer persisted.
type Fallback struct {
	durable  Store
	memory   *MemoryStore
	degraded atomic.Bool
	logger   *slog.Logger
}

// NewFallback wraps durable.
func NewFallback(durable Store, logger *slog.Logger) *Fallback {
	return &Fallback{durable: durable, memory: NewMemoryStore(), logger: logger}
}

// Degraded reports whether the durable store has been abandoned.
func (f *Fallback) Degraded() bool {
	return f.degraded.Load()
}

func (f *Fallback) degrade(err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("credential store unavailable, tokens will not persist across restarts",
			slog.String("error", err.Error()))
	}
}

func isIOError(err error) bool {
	return errors.Is(err, apperrors.ErrCredentialStore)
}

func (f *Fallback) Load(ctx context.Context, key Key) (*models.TokenRecord, error) {
	if f.Degraded() {
		return f.memory.Load(ctx, key)
	}

	rec, err := f.durable.Load(ctx, key)
	if err != nil && isIOError(err) {
		f.degrade(err)
		return f.memory.Load(ctx, key)
	}

	return rec, err
}

func (f *Fallback) Save(ctx context.Context, key Key, rec *models.TokenRecord) error {
	if f.Degraded() {
		return f.memory.Save(ctx, key, rec)
	}

	err := f.durable.Save(ctx, key, rec)
	if err != nil && isIOError(err) {
		f.degrade(err)
		return f.memory.Save(ctx, key, rec)
	}

	return err
}

func (f *Fallback) Clear(ctx context.Context, key Key) error {
	_ = f.memory.Clear(ctx, key)

	if f.Degraded() {
		return nil
	}

	err := f.durable.Clear(ctx, key)
	if err != nil && isIOError(err) {
		f.degrade(err)
		return nil
	}

	return err
}

// Close closes the durable store when it holds resources.
func (f *Fallback) Close() error {
	if c, ok := f.durable.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Options selects and configures a backend for Open.
type Options struct {
	// Backend is "file", "bolt" or "memory".
	Backend string
	// Dir overrides DefaultDir.
	Dir string
	// Key enables the sealed codec when non-empty.
	Key string
}

// Open builds the configured store wrapped in a Fallback. A backend that
// cannot be opened at all degrades immediately instead of failing
// startup.
func Open(opts Options, logger *slog.Logger) (*Fallback, error) {
	var codec Codec = JSONCodec{}
	if opts.Key != "" {
		sealed, err := NewSealedCodec(opts.Key)
		if err != nil {
			return nil, err
		}
		codec = sealed
	}

	if opts.Backend == "memory" {
		return NewFallback(NewMemoryStore(), logger), nil
	}

	dir := opts.Dir
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("resolving token store directory: %w", err)
		}
		dir = d
	}

	switch opts.Backend {
	case "", "file":
		return NewFallback(NewFileStore(dir, codec, logger), logger), nil
	case "bolt":
		bs, err := OpenBolt(dir, codec, logger)
		if err != nil {
			fb := NewFallback(NewMemoryStore(), logger)
			fb.degrade(err)
			return fb, nil
		}
		return NewFallback(bs, logger), nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", opts.Backend)
	}
}
