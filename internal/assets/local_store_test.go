package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/stretchr/testify/require"
)

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(LocalStoreConfig{Directory: t.TempDir(), PublicPath: "/assets"})
	require.NoError(t, err)
	return store
}

func TestStoreWritesDataURLImage(t *testing.T) {
	store := newTestStore(t)

	reference, err := store.Store(context.Background(), "posts", "data:image/png;base64,"+onePixelPNG)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(reference, "/assets/posts/"), reference)
	require.True(t, strings.HasSuffix(reference, ".png"), reference)

	written := filepath.Join(store.Directory(), "posts", filepath.Base(reference))
	info, err := os.Stat(written)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	require.NoError(t, store.Release(context.Background(), reference))
	_, err = os.Stat(written)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, store.Release(context.Background(), reference), "releasing twice is harmless")
}

func TestStoreRejectsNonImages(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Store(context.Background(), "posts", "data:image/png;base64,aGVsbG8gd29ybGQ=")
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)

	_, err = store.Store(context.Background(), "posts", "data:image/png,plain")
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)

	_, err = store.Store(context.Background(), "posts", "ftp://example.com/a.png")
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)

	_, err = store.Store(context.Background(), "../escape", "data:image/png;base64,"+onePixelPNG)
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)
}

func TestStoreEnforcesSizeLimit(t *testing.T) {
	store, err := NewLocalStore(LocalStoreConfig{Directory: t.TempDir(), MaxBytes: 16})
	require.NoError(t, err)

	_, err = store.Store(context.Background(), "profiles", "data:image/png;base64,"+onePixelPNG)
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)
	require.Equal(t, "assets.store.too_large", apperr.CodeOf(err))
}

func TestStoreKeepsRemoteAndLocalReferences(t *testing.T) {
	store := newTestStore(t)

	remote := "https://images.example.com/cat.jpg"
	reference, err := store.Store(context.Background(), "profiles", remote)
	require.NoError(t, err)
	require.Equal(t, remote, reference)
	require.NoError(t, store.Release(context.Background(), remote))

	local := "/assets/profiles/existing.png"
	reference, err = store.Store(context.Background(), "profiles", local)
	require.NoError(t, err)
	require.Equal(t, local, reference)
}

func TestReleaseRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	err := store.Release(context.Background(), "/assets/../secrets.txt")
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)
}

func TestNewLocalStoreValidatesConfig(t *testing.T) {
	_, err := NewLocalStore(LocalStoreConfig{})
	require.Error(t, err)

	_, err = NewLocalStore(LocalStoreConfig{Directory: t.TempDir(), PublicPath: "assets"})
	require.Error(t, err)
}
