package devices

import (
	"context"
	"sync"

	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/models"
	"github.com/yeti47/cryospy/screencap/resolution"
)

// VideoConstraints are requested ideals. Backends may deliver something close to them.
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
	Cursor    bool
}

type AudioConstraints struct {
	SampleRate int
	Channels   int
}

// DisplayConstraints request a display surface. Display audio is never requested.
type DisplayConstraints struct {
	Video VideoConstraints
}

// UserMediaConstraints request camera and/or microphone in a single call.
// A nil member is not requested.
type UserMediaConstraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// Backend is the platform capability that hands out live streams
type Backend interface {
	GetDisplayMedia(ctx context.Context, constraints DisplayConstraints) (*Stream, error)
	GetUserMedia(ctx context.Context, constraints UserMediaConstraints) (*Stream, error)
}

// StreamAcquirer turns a capture mode and settings into a live stream
type StreamAcquirer interface {
	AcquireStream(ctx context.Context, mode models.CaptureMode, settings models.RecordingSettings) (*Stream, error)
	Release() error
}

type AcquirerOptions struct {
	SampleRate int
	Channels   int
}

// Acquirer holds at most one stream at a time
type Acquirer struct {
	backend Backend
	options AcquirerOptions
	logger  common.Logger

	mu   sync.Mutex
	held *Stream
}

func NewAcquirer(backend Backend, options AcquirerOptions, logger common.Logger) *Acquirer {
	if options.SampleRate <= 0 {
		options.SampleRate = 48000
	}
	if options.Channels <= 0 {
		options.Channels = 1
	}
	return &Acquirer{
		backend: backend,
		options: options,
		logger:  common.LoggerOrNop(logger),
	}
}

// AcquireStream releases any stream still held and requests a new one for mode.
// For screen captures the microphone is merged in when audio is enabled; a failed
// microphone request leaves the capture video-only.
func (a *Acquirer) AcquireStream(ctx context.Context, mode models.CaptureMode, settings models.RecordingSettings) (*Stream, error) {
	if err := a.Release(); err != nil {
		a.logger.Warn("Failed to release previous stream", "error", err)
	}

	if !mode.IsValid() {
		return nil, NewUnsupportedModeError(string(mode))
	}

	target := resolution.ForQuality(settings.Quality)
	video := VideoConstraints{
		Width:     target.Width,
		Height:    target.Height,
		FrameRate: settings.FrameRate,
		Cursor:    settings.ShowCursor,
	}
	audio := AudioConstraints{SampleRate: a.options.SampleRate, Channels: a.options.Channels}

	var stream *Stream
	var err error

	switch mode {
	case models.CaptureModeScreen:
		stream, err = a.backend.GetDisplayMedia(ctx, DisplayConstraints{Video: video})
		if err != nil {
			return nil, ClassifyError("display", err)
		}
		if settings.IncludeAudio {
			a.mergeMicrophone(ctx, stream, audio)
		}
	case models.CaptureModeCamera:
		request := UserMediaConstraints{Video: &video}
		if settings.IncludeAudio {
			request.Audio = &audio
		}
		stream, err = a.backend.GetUserMedia(ctx, request)
		if err != nil {
			return nil, ClassifyError("camera", err)
		}
	case models.CaptureModeAudio:
		stream, err = a.backend.GetUserMedia(ctx, UserMediaConstraints{Audio: &audio})
		if err != nil {
			return nil, ClassifyError("microphone", err)
		}
	}

	a.mu.Lock()
	a.held = stream
	a.mu.Unlock()

	a.logger.Info("Acquired capture stream", "mode", mode, "stream", stream.ID(),
		"video_tracks", len(stream.VideoTracks()), "audio_tracks", len(stream.AudioTracks()))

	return stream, nil
}

func (a *Acquirer) mergeMicrophone(ctx context.Context, stream *Stream, audio AudioConstraints) {
	mic, err := a.backend.GetUserMedia(ctx, UserMediaConstraints{Audio: &audio})
	if err != nil {
		a.logger.Warn("Microphone unavailable, continuing without audio", "error", err)
		return
	}
	if MergeAudioTracks(stream, mic) == 0 {
		a.logger.Warn("Microphone stream carried no audio track, continuing without audio")
	}
}

// Held returns the stream currently held, or nil
func (a *Acquirer) Held() *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}

// Release stops every track of the held stream. Safe to call with nothing held.
func (a *Acquirer) Release() error {
	a.mu.Lock()
	stream := a.held
	a.held = nil
	a.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Stop()
}
