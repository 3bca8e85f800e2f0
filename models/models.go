package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CaptureMode selects which device-access strategy and container family applies
type CaptureMode string

const (
	CaptureModeScreen CaptureMode = "screen"
	CaptureModeCamera CaptureMode = "camera"
	CaptureModeAudio  CaptureMode = "audio"
)

// IsVideo reports whether recordings of this mode carry a video track
func (m CaptureMode) IsVideo() bool {
	return m == CaptureModeScreen || m == CaptureModeCamera
}

// IsValid checks that the mode is one of the known capture modes
func (m CaptureMode) IsValid() bool {
	switch m {
	case CaptureModeScreen, CaptureModeCamera, CaptureModeAudio:
		return true
	}
	return false
}

// ParseCaptureMode converts a user supplied string into a CaptureMode
func ParseCaptureMode(s string) (CaptureMode, error) {
	mode := CaptureMode(strings.ToLower(strings.TrimSpace(s)))
	if !mode.IsValid() {
		return "", fmt.Errorf("unknown capture mode: %s", s)
	}
	return mode, nil
}

// Quality is the vertical resolution hint for video capture
type Quality int

const (
	Quality1080 Quality = 1080
	Quality720  Quality = 720
	Quality480  Quality = 480
)

func (q Quality) IsValid() bool {
	return q == Quality1080 || q == Quality720 || q == Quality480
}

// Blob is an encoded media container held in memory
type Blob struct {
	Data     []byte
	MimeType string
}

// Size returns the blob size in bytes
func (b Blob) Size() int64 {
	return int64(len(b.Data))
}

// IsEmpty reports whether the blob holds no data
func (b Blob) IsEmpty() bool {
	return len(b.Data) == 0
}

// Container returns the container subtype of the MIME type, e.g. "webm" for "video/webm;codecs=vp9"
func (b Blob) Container() string {
	mimeType := b.MimeType
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if i := strings.Index(mimeType, "/"); i >= 0 {
		return strings.TrimSpace(mimeType[i+1:])
	}
	return strings.TrimSpace(mimeType)
}

// ErrEmptyRecording is returned when an operation needs recorded data and got none
var ErrEmptyRecording = errors.New("recording holds no data")

// Recording is the immutable result of a finished capture session
type Recording struct {
	ID          string
	Mode        CaptureMode
	Blob        Blob
	PlayableURL string // process-local handle, released by whoever owns the recording
	Duration    time.Duration
	CreatedAt   time.Time
	SourceID    string // set on edited recordings, the ID of the recording they were rendered from
}

// IsEdited reports whether the recording was produced by the editor
func (r *Recording) IsEdited() bool {
	return r.SourceID != ""
}

// DurationSeconds returns the recording duration as fractional seconds
func (r *Recording) DurationSeconds() float64 {
	return r.Duration.Seconds()
}

// WithPlayableURL returns a copy of the recording bound to another playable handle
func (r *Recording) WithPlayableURL(url string) *Recording {
	clone := *r
	clone.PlayableURL = url
	return &clone
}
