package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecord(value string) *models.TokenRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.TokenRecord{
		Value:         value,
		Source:        models.SourceDirectOAuth,
		ObtainedAt:    now,
		ExpiresAt:     now.Add(60 * 24 * time.Hour),
		ScopeIdentity: "1234567890",
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	bs, err := OpenBoltAt(filepath.Join(t.TempDir(), BoltFileName), nil, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	sealed, err := NewSealedCodec("correct horse battery staple")
	require.NoError(t, err)

	return map[string]Store{
		"file":   NewFileStore(t.TempDir(), nil, discardLogger()),
		"sealed": NewFileStore(t.TempDir(), sealed, discardLogger()),
		"bolt":   bs,
		"memory": NewMemoryStore(),
	}
}

// --- round trip ---

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	key := AppKey("1234567890")

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleRecord("EAABtoken-" + name)
			require.NoError(t, s.Save(ctx, key, want))

			got, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, want.Value, got.Value)
			assert.Equal(t, want.Source, got.Source)
			assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
			assert.True(t, want.ObtainedAt.Equal(got.ObtainedAt))
			assert.Equal(t, want.ScopeIdentity, got.ScopeIdentity)
		})
	}
}

func TestStore_MissingIsNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), AppKey("999"))
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	key := BrokerKey("pb_key")

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, key, sampleRecord("first-token-value")))
			require.NoError(t, s.Save(ctx, key, sampleRecord("second-token-value")))

			got, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "second-token-value", got.Value)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	key := AppKey("42")

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, key, sampleRecord("to-be-cleared")))
			require.NoError(t, s.Clear(ctx, key))

			_, err := s.Load(ctx, key)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)

			// Clearing an absent record is not an error.
			require.NoError(t, s.Clear(ctx, key))
		})
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, AppKey("111"), sampleRecord("token-for-111")))
			require.NoError(t, s.Save(ctx, AppKey("222"), sampleRecord("token-for-222")))

			got, err := s.Load(ctx, AppKey("111"))
			require.NoError(t, err)
			assert.Equal(t, "token-for-111", got.Value)
		})
	}
}

// --- keys ---

func TestKey_Validate(t *testing.T) {
	assert.NoError(t, AppKey("1234567890").Validate())
	assert.NoError(t, BrokerKey("secret").Validate())

	assert.Error(t, AppKey("../../etc").Validate())
	assert.Error(t, AppKey("..").Validate())
	assert.Error(t, AppKey("").Validate())
	assert.Error(t, Key{Source: models.SourceExplicit, Identity: "x"}.Validate())
	assert.Error(t, Key{Source: "bogus", Identity: "x"}.Validate())
}

func TestBrokerKey_DoesNotContainSecret(t *testing.T) {
	k := BrokerKey("pb_live_abcdef")
	assert.NotContains(t, k.Identity, "pb_live")
	assert.Equal(t, k, BrokerKey("pb_live_abcdef"))
	assert.NotEqual(t, k, BrokerKey("pb_live_other"))
	assert.Equal(t, "broker/"+k.Identity, k.String())
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil, discardLogger())
	err := s.Save(context.Background(), AppKey("../escape"), sampleRecord("nope-nope"))
	assert.Error(t, err)
}

// --- file store specifics ---

func TestFileStore_Layout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	dir := t.TempDir()
	s := NewFileStore(dir, nil, discardLogger())
	require.NoError(t, s.Save(context.Background(), AppKey("777"), sampleRecord("layout-token")))

	path := filepath.Join(dir, "direct_oauth", "777", "token.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should not survive a successful save")
}

func TestFileStore_OrphanTempFileIgnored(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir, nil, discardLogger())
	key := AppKey("555")

	require.NoError(t, s.Save(ctx, key, sampleRecord("complete-token")))

	// Simulate a crash mid-write: a partial temp file next to the record.
	orphan := filepath.Join(dir, "direct_oauth", "555", ".token-123.tmp")
	require.NoError(t, os.WriteFile(orphan, []byte(`{"value":"partial`), 0o600))

	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "complete-token", got.Value)
}

func TestFileStore_OrphanTempFileOnlyIsMiss(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil, discardLogger())

	recDir := filepath.Join(dir, "direct_oauth", "556")
	require.NoError(t, os.MkdirAll(recDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(recDir, ".token-1.tmp"), []byte(`{"value":"par`), 0o600))

	_, err := s.Load(context.Background(), AppKey("556"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFileStore_CorruptRecordIsMiss(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil, discardLogger())

	recDir := filepath.Join(dir, "direct_oauth", "557")
	require.NoError(t, os.MkdirAll(recDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(recDir, "token.json"), []byte("not json"), 0o600))

	_, err := s.Load(context.Background(), AppKey("557"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFileStore_ConcurrentReadersSeeWholeRecords(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir(), nil, discardLogger())
	key := AppKey("888")

	require.NoError(t, s.Save(ctx, key, sampleRecord("token-initial")))

	valid := map[string]bool{"token-initial": true}
	for i := range 50 {
		valid[fmt.Sprintf("token-%03d", i)] = true
	}

	var wg sync.WaitGroup
	errs := make(chan error, 200)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 50 {
			if err := s.Save(ctx, key, sampleRecord(fmt.Sprintf("token-%03d", i))); err != nil {
				errs <- err
				return
			}
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				rec, err := s.Load(ctx, key)
				if err != nil {
					errs <- err
					return
				}
				if !valid[rec.Value] {
					errs <- fmt.Errorf("torn read: %q", rec.Value)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// --- sealed codec ---

func TestSealedCodec_CiphertextHidesToken(t *testing.T) {
	dir := t.TempDir()
	sealed, err := NewSealedCodec("k1")
	require.NoError(t, err)

	s := NewFileStore(dir, sealed, discardLogger())
	require.NoError(t, s.Save(context.Background(), AppKey("100"), sampleRecord("EAABsupersecret")))

	raw, err := os.ReadFile(filepath.Join(dir, "direct_oauth", "100", "token.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "EAABsupersecret")
}

func TestSealedCodec_WrongKeyIsMiss(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c1, err := NewSealedCodec("k1")
	require.NoError(t, err)
	c2, err := NewSealedCodec("k2")
	require.NoError(t, err)

	require.NoError(t, NewFileStore(dir, c1, discardLogger()).Save(ctx, AppKey("101"), sampleRecord("sealed-token")))

	_, err = NewFileStore(dir, c2, discardLogger()).Load(ctx, AppKey("101"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSealedCodec_EmptyKey(t *testing.T) {
	_, err := NewSealedCodec("")
	assert.Error(t, err)
}

func TestSealedCodec_Truncated(t *testing.T) {
	c, err := NewSealedCodec("k1")
	require.NoError(t, err)

	_, err = c.Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

// --- bolt specifics ---

func TestBoltStore_ReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", BoltFileName)

	s1, err := OpenBoltAt(path, nil, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, AppKey("200"), sampleRecord("persist-me-please")))
	require.NoError(t, s1.Close())

	s2, err := OpenBoltAt(path, nil, discardLogger())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Load(ctx, AppKey("200"))
	require.NoError(t, err)
	assert.Equal(t, "persist-me-please", got.Value)
}

// --- memory ---

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := sampleRecord("original-value")
	require.NoError(t, s.Save(ctx, AppKey("1"), rec))

	rec.Value = "mutated-after-save"

	got, err := s.Load(ctx, AppKey("1"))
	require.NoError(t, err)
	assert.Equal(t, "original-value", got.Value)
	assert.Equal(t, 1, s.Len())
}

// --- fallback ---

func TestFallback_DegradesOnIOError(t *testing.T) {
	ctx := context.Background()

	// A regular file where the store directory should be makes every
	// write fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	fb := NewFallback(NewFileStore(blocker, nil, discardLogger()), discardLogger())
	require.False(t, fb.Degraded())

	require.NoError(t, fb.Save(ctx, AppKey("300"), sampleRecord("kept-in-memory")))
	assert.True(t, fb.Degraded())

	got, err := fb.Load(ctx, AppKey("300"))
	require.NoError(t, err)
	assert.Equal(t, "kept-in-memory", got.Value)
}

func TestFallback_MissDoesNotDegrade(t *testing.T) {
	fb := NewFallback(NewFileStore(t.TempDir(), nil, discardLogger()), discardLogger())

	_, err := fb.Load(context.Background(), AppKey("301"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, fb.Degraded())
}

func TestStoreError_Unwraps(t *testing.T) {
	base := errors.New("disk on fire")
	err := &StoreError{Op: "save", Key: AppKey("1"), Err: base}

	assert.ErrorIs(t, err, apperrors.ErrCredentialStore)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "direct_oauth/1")
}

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()

	mem, err := Open(Options{Backend: "memory"}, discardLogger())
	require.NoError(t, err)
	assert.False(t, mem.Degraded())

	file, err := Open(Options{Backend: "file", Dir: dir, Key: "sealed"}, discardLogger())
	require.NoError(t, err)
	require.NoError(t, file.Save(context.Background(), AppKey("400"), sampleRecord("opened-file")))

	bs, err := Open(Options{Backend: "bolt", Dir: dir}, discardLogger())
	require.NoError(t, err)
	defer bs.Close()
	_, err = os.Stat(filepath.Join(dir, BoltFileName))
	assert.NoError(t, err)

	_, err = Open(Options{Backend: "redis", Dir: dir}, discardLogger())
	assert.Error(t, err)
}

func TestDefaultDir_UsesXDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG applies to other platforms")
	}

	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	dir, err := DefaultDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg-test", "meta-ads-mcp"), dir)
}
