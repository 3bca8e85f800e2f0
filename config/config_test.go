package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "screen", cfg.CaptureMode)
	assert.Equal(t, 1080, cfg.Quality)
	assert.Equal(t, 30, cfg.FrameRate)
	assert.Equal(t, 3, cfg.CountdownSeconds)
	assert.Equal(t, 3, cfg.MaxConsecutiveFrameFailures)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config file should have been written")
}

func TestLoadConfigAppliesDefaultsForMissingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"capture_mode":"camera","quality":720}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "camera", cfg.CaptureMode)
	assert.Equal(t, 720, cfg.Quality)
	assert.Equal(t, 30, cfg.FrameRate)
	assert.Equal(t, 1000, cfg.ChunkIntervalMillis)
	assert.Equal(t, "webm", cfg.ExportFormat)
	assert.Equal(t, 0, cfg.CountdownSeconds, "countdown stays disabled when omitted")
}

func TestLoadConfigRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestOverride(t *testing.T) {
	cfg := DefaultConfig()

	mode := "audio"
	quality := 0
	includeAudio := false
	countdown := 0

	cfg.Override(ConfigOverrides{
		CaptureMode:      &mode,
		Quality:          &quality,
		IncludeAudio:     &includeAudio,
		CountdownSeconds: &countdown,
	})

	assert.Equal(t, "audio", cfg.CaptureMode)
	assert.Equal(t, 1080, cfg.Quality, "zero quality must not override")
	assert.False(t, cfg.IncludeAudio)
	assert.Equal(t, 0, cfg.CountdownSeconds)
}

func TestMutableSettingsProvider(t *testing.T) {
	provider := NewMutableSettingsProvider(10)
	assert.Equal(t, 10, provider.GetSettings())

	updated, err := provider.Update(func(current int) (int, error) { return current + 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 15, updated)

	_, err = provider.Update(func(current int) (int, error) { return 0, errors.New("rejected") })
	require.Error(t, err)
	assert.Equal(t, 15, provider.GetSettings())

	provider.Set(42)
	assert.Equal(t, 42, provider.GetSettings())
}
