package filemanagement

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/models"
)

// FileTracker owns the temporary files that back playable recordings
type FileTracker interface {
	// Publish writes blob to a temp file and returns a playable file:// URL for it
	Publish(blob models.Blob) (string, error)

	// Release revokes a URL returned by Publish. Unknown or already released URLs are ignored.
	Release(playableURL string)

	// Materialize writes blob to a temp file named after pattern and returns its path.
	// The caller deletes the file with DeleteFile.
	Materialize(blob models.Blob, pattern string) (string, error)

	// DeleteFile removes a file from disk
	DeleteFile(filePath string)

	// EnsureTempDirectory creates the temporary directory if it doesn't exist
	EnsureTempDirectory() error

	// CleanupTempDirectory removes all files in the temporary directory
	CleanupTempDirectory()
}

// LocalFileTracker implements FileTracker for local filesystem
type LocalFileTracker struct {
	tempDir   string
	logger    common.Logger
	mu        sync.Mutex
	published map[string]string // URL -> path
}

// NewLocalFileTracker creates a new local file tracker
func NewLocalFileTracker(tempDir string, logger common.Logger) *LocalFileTracker {
	return &LocalFileTracker{
		tempDir:   tempDir,
		logger:    common.LoggerOrNop(logger),
		published: make(map[string]string),
	}
}

func (t *LocalFileTracker) Publish(blob models.Blob) (string, error) {
	if blob.IsEmpty() {
		return "", errors.New("cannot publish an empty recording")
	}

	ext := common.ContainerToFileExtension(blob.Container(), isAudioMime(blob.MimeType))
	path, err := t.Materialize(blob, "recording-*"+ext)
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	playable := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()

	t.mu.Lock()
	t.published[playable] = path
	t.mu.Unlock()

	t.logger.Debug("Published playable recording", "url", playable, "bytes", blob.Size())
	return playable, nil
}

func (t *LocalFileTracker) Release(playableURL string) {
	if playableURL == "" {
		return
	}

	t.mu.Lock()
	path, ok := t.published[playableURL]
	delete(t.published, playableURL)
	t.mu.Unlock()

	if ok {
		t.DeleteFile(path)
	}
}

// PathFor returns the file behind a published URL
func (t *LocalFileTracker) PathFor(playableURL string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.published[playableURL]
	return path, ok
}

func (t *LocalFileTracker) Materialize(blob models.Blob, pattern string) (string, error) {
	if err := t.EnsureTempDirectory(); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	file, err := os.CreateTemp(t.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(blob.Data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	return file.Name(), nil
}

// DeleteFile removes a file from disk
func (t *LocalFileTracker) DeleteFile(filePath string) {
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("Failed to remove file", "path", filePath, "error", err)
	} else {
		t.logger.Debug("Deleted file", "path", filePath)
	}
}

// EnsureTempDirectory creates the temporary directory if it doesn't exist
func (t *LocalFileTracker) EnsureTempDirectory() error {
	return os.MkdirAll(t.tempDir, 0755)
}

// CleanupTempDirectory removes all files in the temporary directory and forgets every published URL
func (t *LocalFileTracker) CleanupTempDirectory() {
	t.mu.Lock()
	clear(t.published)
	t.mu.Unlock()

	entries, err := os.ReadDir(t.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("Failed to read temp directory", "path", t.tempDir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			filePath := filepath.Join(t.tempDir, entry.Name())
			t.logger.Debug("Cleaning up temp file", "path", filePath)
			if err := os.Remove(filePath); err != nil {
				t.logger.Warn("Failed to remove temp file", "path", filePath, "error", err)
			}
		}
	}
}

func isAudioMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/")
}
