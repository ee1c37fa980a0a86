package storage

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-style-service/internal/apperr"
)

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), nil)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(32, 32, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestSaveFilenameShape(t *testing.T) {
	store := newLocalStore(t)

	path, filename, err := store.Save(pngBytes(t), "retro-remix", "png")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^retro-remix-\d+-[0-9a-f]{8}\.png$`)
	assert.Regexp(t, pattern, filename)
	assert.Equal(t, filepath.Join(store.BaseDir, filename), path)

	// 保存后文件确实存在
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSaveExtensionTable(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"png", ".png"},
		{"jpeg", ".jpg"},
		{"webp", ".webp"},
		{"bmp", ".png"},
		{"", ".png"},
		{"JPEG", ".jpg"},
	}

	store := newLocalStore(t)
	for _, tt := range tests {
		t.Run("format "+tt.format, func(t *testing.T) {
			_, filename, err := store.Save(pngBytes(t), "glitch-pro", tt.format)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(filename, tt.ext), "filename %q should end with %q", filename, tt.ext)
		})
	}
}

func TestSaveFilenamesUnique(t *testing.T) {
	store := newLocalStore(t)
	data := []byte("not a real image, thumbnails are best effort")

	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		_, filename, err := store.Save(data, "funny-toon", "png")
		require.NoError(t, err)
		require.False(t, seen[filename], "duplicate filename %q after %d saves", filename, i)
		seen[filename] = true
	}
}

func TestFetchRoundTrip(t *testing.T) {
	store := newLocalStore(t)
	data := pngBytes(t)

	_, filename, err := store.Save(data, "cover-shoot", "png")
	require.NoError(t, err)

	got, err := store.Fetch(filename)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchMissingIsNotFound(t *testing.T) {
	store := newLocalStore(t)

	_, err := store.Fetch("cover-shoot-1756600000-deadbeef.png")
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, kind)
}

func TestFetchRejectsTraversal(t *testing.T) {
	store := newLocalStore(t)

	// 基础目录之外放一个文件，确认逃逸路径读不到它
	outside := filepath.Join(filepath.Dir(store.BaseDir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))

	names := []string{
		"",
		".",
		"..",
		"../secret.txt",
		"..\\secret.txt",
		"sub/secret.txt",
		"/etc/passwd",
	}
	for _, name := range names {
		t.Run(fmt.Sprintf("name %q", name), func(t *testing.T) {
			_, err := store.Fetch(name)
			require.Error(t, err)
			kind, ok := apperr.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindNotFound, kind)
		})
	}
}

func TestSaveRejectsTraversalTemplateID(t *testing.T) {
	store := newLocalStore(t)

	ids := []string{
		"",
		".",
		"..",
		"../escaped",
		"..\\escaped",
		"sub/escaped",
		"/etc/escaped",
	}
	for _, id := range ids {
		t.Run(fmt.Sprintf("id %q", id), func(t *testing.T) {
			_, _, err := store.Save([]byte("payload"), id, "png")
			require.Error(t, err)
			kind, ok := apperr.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, kind)
		})
	}

	// 基础目录的上层不能出现任何写入产物
	parent, err := os.ReadDir(filepath.Dir(store.BaseDir))
	require.NoError(t, err)
	for _, entry := range parent {
		assert.NotContains(t, entry.Name(), "escaped")
	}
}

func TestSaveWritesThumbnail(t *testing.T) {
	store := newLocalStore(t)

	_, filename, err := store.Save(pngBytes(t), "footy-fan", "png")
	require.NoError(t, err)

	_, err = os.Stat(store.ThumbnailPath(filename))
	require.NoError(t, err)
}

func TestDeleteRemovesArtifactAndThumbnail(t *testing.T) {
	store := newLocalStore(t)

	path, filename, err := store.Save(pngBytes(t), "retro-remix", "png")
	require.NoError(t, err)

	require.NoError(t, store.Delete(filename))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(store.ThumbnailPath(filename))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoteURLDisabledWithoutOSS(t *testing.T) {
	store := newLocalStore(t)
	assert.Equal(t, "", store.RemoteURL("whatever.png"))
}
