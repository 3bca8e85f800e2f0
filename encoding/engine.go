package encoding

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/models"
)

// Telemetry is reported after every collected chunk
type Telemetry struct {
	Chunks    int
	Bytes     int64
	HumanSize string
}

type Callbacks struct {
	OnChunk func(Telemetry)
	// OnError is called when the encoder fails before Finalize or Abort was requested
	OnError func(error)
}

type EngineSettings struct {
	Timeslice    time.Duration
	VideoBitRate string
	AudioBitRate string
}

var DefaultEngineSettings = EngineSettings{
	Timeslice:    time.Second,
	VideoBitRate: "2500k",
	AudioBitRate: "128k",
}

// Engine starts encodes and collects their chunks in arrival order
type Engine struct {
	encoder  MediaEncoder
	settings EngineSettings
	logger   common.Logger
}

func NewEngine(encoder MediaEncoder, settings EngineSettings, logger common.Logger) *Engine {
	if settings.Timeslice <= 0 {
		settings.Timeslice = DefaultEngineSettings.Timeslice
	}
	if settings.VideoBitRate == "" {
		settings.VideoBitRate = DefaultEngineSettings.VideoBitRate
	}
	if settings.AudioBitRate == "" {
		settings.AudioBitRate = DefaultEngineSettings.AudioBitRate
	}
	return &Engine{
		encoder:  encoder,
		settings: settings,
		logger:   common.LoggerOrNop(logger),
	}
}

// MimeTypeFor returns the format BeginEncoding would choose for mode
func (e *Engine) MimeTypeFor(mode models.CaptureMode) (string, error) {
	return SelectMimeType(mode, e.encoder.IsTypeSupported)
}

// BeginEncoding selects a format for mode and starts encoding stream.
// settings are the frozen settings of the session the stream was acquired for.
func (e *Engine) BeginEncoding(ctx context.Context, stream *devices.Stream, mode models.CaptureMode, settings models.RecordingSettings, callbacks Callbacks) (*Handle, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recording settings: %w", err)
	}

	mimeType, err := e.MimeTypeFor(mode)
	if err != nil {
		return nil, err
	}

	session, err := e.encoder.Open(ctx, stream, EncoderOptions{
		MimeType:     mimeType,
		Timeslice:    e.settings.Timeslice,
		VideoBitRate: e.settings.VideoBitRate,
		AudioBitRate: e.settings.AudioBitRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	h := &Handle{
		mimeType:  mimeType,
		session:   session,
		callbacks: callbacks,
		logger:    e.logger,
		done:      make(chan struct{}),
	}
	go h.collect()

	e.logger.Info("Encoding started", "mime_type", mimeType, "quality", settings.Quality,
		"frame_rate", settings.FrameRate, "timeslice", e.settings.Timeslice)
	return h, nil
}

// Handle is a running encode owned by a single recording session
type Handle struct {
	mimeType  string
	session   EncoderSession
	callbacks Callbacks
	logger    common.Logger
	done      chan struct{}

	mu       sync.Mutex
	chunks   [][]byte
	bytes    int64
	stopping bool
	err      error
}

func (h *Handle) collect() {
	defer close(h.done)

	for chunk := range h.session.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		h.mu.Lock()
		h.chunks = append(h.chunks, chunk)
		h.bytes += int64(len(chunk))
		telemetry := h.telemetryLocked()
		h.mu.Unlock()

		if h.callbacks.OnChunk != nil {
			h.callbacks.OnChunk(telemetry)
		}
	}

	err := h.session.Err()

	h.mu.Lock()
	h.err = err
	stopping := h.stopping
	h.mu.Unlock()

	if err != nil && !stopping {
		h.logger.Error("Encoder failed", "error", err)
		if h.callbacks.OnError != nil {
			h.callbacks.OnError(err)
		}
	}
}

func (h *Handle) telemetryLocked() Telemetry {
	return Telemetry{
		Chunks:    len(h.chunks),
		Bytes:     h.bytes,
		HumanSize: humanize.Bytes(uint64(h.bytes)),
	}
}

func (h *Handle) MimeType() string {
	return h.mimeType
}

func (h *Handle) Telemetry() Telemetry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.telemetryLocked()
}

func (h *Handle) Pause() {
	h.session.Pause()
}

func (h *Handle) Resume() {
	h.session.Resume()
}

func (h *Handle) requestStop() {
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()
	h.session.Stop()
}

// Finalize stops the encoder, waits for the final chunk and assembles the chunks
// into a single blob. The chunk buffers are released afterwards.
func (h *Handle) Finalize(ctx context.Context) (models.Blob, error) {
	h.requestStop()

	select {
	case <-h.done:
	case <-ctx.Done():
		h.discard()
		return models.Blob{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	chunks := h.chunks
	h.chunks = nil

	if len(chunks) == 0 {
		if h.err != nil {
			return models.Blob{}, fmt.Errorf("%w: %v", ErrNoDataCaptured, h.err)
		}
		return models.Blob{}, ErrNoDataCaptured
	}
	if h.err != nil {
		h.logger.Warn("Encoder reported an error during final flush", "error", h.err)
	}

	return models.Blob{
		Data:     bytes.Join(chunks, nil),
		MimeType: h.mimeType,
	}, nil
}

// Abort stops the encoder and drops everything collected so far
func (h *Handle) Abort() {
	h.requestStop()
	h.discard()
}

func (h *Handle) discard() {
	go func() {
		<-h.done
		h.mu.Lock()
		h.chunks = nil
		h.mu.Unlock()
	}()
}
