package models

import "fmt"

// RecordingSettings holds the user's capture preferences
type RecordingSettings struct {
	Quality      Quality // Vertical resolution hint (1080, 720 or 480)
	FrameRate    int     // Frames per second (60, 30 or 24)
	IncludeAudio bool    // Whether to capture microphone audio alongside video
	ShowCursor   bool    // Whether the cursor should be drawn into screen captures
}

// DefaultRecordingSettings are applied when nothing else is configured
var DefaultRecordingSettings = RecordingSettings{
	Quality:      Quality1080,
	FrameRate:    30,
	IncludeAudio: true,
	ShowCursor:   true,
}

// Validate checks that quality and frame rate are among the supported values
func (s RecordingSettings) Validate() error {
	if !s.Quality.IsValid() {
		return fmt.Errorf("unsupported quality: %d", s.Quality)
	}
	switch s.FrameRate {
	case 60, 30, 24:
	default:
		return fmt.Errorf("unsupported frame rate: %d", s.FrameRate)
	}
	return nil
}

// SettingsPatch is a partial update of RecordingSettings; nil fields are left untouched
type SettingsPatch struct {
	Quality      *Quality
	FrameRate    *int
	IncludeAudio *bool
	ShowCursor   *bool
}

// Apply returns a copy of the settings with the patch applied and validated
func (s RecordingSettings) Apply(patch SettingsPatch) (RecordingSettings, error) {
	updated := s
	if patch.Quality != nil {
		updated.Quality = *patch.Quality
	}
	if patch.FrameRate != nil {
		updated.FrameRate = *patch.FrameRate
	}
	if patch.IncludeAudio != nil {
		updated.IncludeAudio = *patch.IncludeAudio
	}
	if patch.ShowCursor != nil {
		updated.ShowCursor = *patch.ShowCursor
	}
	if err := updated.Validate(); err != nil {
		return s, err
	}
	return updated, nil
}
