package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobContainer(t *testing.T) {
	tests := []struct {
		mimeType string
		expected string
	}{
		{"video/webm;codecs=vp9,opus", "webm"},
		{"video/webm", "webm"},
		{"audio/webm;codecs=opus", "webm"},
		{"video/mp4", "mp4"},
		{"", ""},
	}

	for _, tt := range tests {
		blob := Blob{MimeType: tt.mimeType}
		assert.Equal(t, tt.expected, blob.Container(), "mime type %q", tt.mimeType)
	}
}

func TestSettingsApply(t *testing.T) {
	quality := Quality720
	includeAudio := false

	updated, err := DefaultRecordingSettings.Apply(SettingsPatch{Quality: &quality, IncludeAudio: &includeAudio})
	require.NoError(t, err)

	assert.Equal(t, Quality720, updated.Quality)
	assert.False(t, updated.IncludeAudio)
	assert.Equal(t, DefaultRecordingSettings.FrameRate, updated.FrameRate)
	assert.Equal(t, DefaultRecordingSettings.ShowCursor, updated.ShowCursor)
}

func TestSettingsApplyRejectsInvalidValues(t *testing.T) {
	frameRate := 25

	updated, err := DefaultRecordingSettings.Apply(SettingsPatch{FrameRate: &frameRate})
	require.Error(t, err)
	assert.Equal(t, DefaultRecordingSettings, updated, "settings must be unchanged on invalid patch")
}

func TestParseCaptureMode(t *testing.T) {
	mode, err := ParseCaptureMode(" Camera ")
	require.NoError(t, err)
	assert.Equal(t, CaptureModeCamera, mode)
	assert.True(t, mode.IsVideo())

	_, err = ParseCaptureMode("window")
	assert.Error(t, err)

	assert.False(t, CaptureModeAudio.IsVideo())
}
