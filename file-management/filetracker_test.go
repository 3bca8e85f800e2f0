package filemanagement

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/models"
)

func TestPublishAndRelease(t *testing.T) {
	tracker := NewLocalFileTracker(filepath.Join(t.TempDir(), "tmp"), nil)

	playable, err := tracker.Publish(models.Blob{Data: []byte("webm-data"), MimeType: "video/webm;codecs=vp9,opus"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(playable, "file://"))

	path, ok := tracker.PathFor(playable)
	require.True(t, ok)
	assert.Equal(t, ".webm", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "webm-data", string(data))

	tracker.Release(playable)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// releasing twice is harmless
	tracker.Release(playable)
	tracker.Release("")
}

func TestPublishRejectsEmptyBlob(t *testing.T) {
	tracker := NewLocalFileTracker(t.TempDir(), nil)
	_, err := tracker.Publish(models.Blob{MimeType: "video/webm"})
	assert.Error(t, err)
}

func TestPublishAudioUsesAudioExtension(t *testing.T) {
	tracker := NewLocalFileTracker(t.TempDir(), nil)

	playable, err := tracker.Publish(models.Blob{Data: []byte{1}, MimeType: "audio/webm;codecs=opus"})
	require.NoError(t, err)

	path, ok := tracker.PathFor(playable)
	require.True(t, ok)
	assert.Equal(t, ".webm", filepath.Ext(path))
}

func TestCleanupTempDirectory(t *testing.T) {
	dir := t.TempDir()
	tracker := NewLocalFileTracker(dir, nil)

	_, err := tracker.Materialize(models.Blob{Data: []byte("a")}, "a-*.bin")
	require.NoError(t, err)
	playable, err := tracker.Publish(models.Blob{Data: []byte("b"), MimeType: "video/mp4"})
	require.NoError(t, err)

	tracker.CleanupTempDirectory()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, ok := tracker.PathFor(playable)
	assert.False(t, ok)
}
