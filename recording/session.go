package recording

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/config"
	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/encoding"
	filemanagement "github.com/yeti47/cryospy/screencap/file-management"
	"github.com/yeti47/cryospy/screencap/metrics"
	"github.com/yeti47/cryospy/screencap/models"
)

type Status string

const (
	StatusIdle             Status = "idle"
	StatusCountdown        Status = "countdown"
	StatusRequestingAccess Status = "requestingAccess"
	StatusRecording        Status = "recording"
	StatusPaused           Status = "paused"
	StatusStopping         Status = "stopping"
)

// Snapshot is the observable state of a session
type Snapshot struct {
	Mode               models.CaptureMode
	Settings           models.RecordingSettings
	Status             Status
	Elapsed            time.Duration
	Chunks             int
	SizeBytes          int64
	HumanSize          string
	CountdownRemaining int
	Recording          *models.Recording
	Err                error
	Message            string
	// Interruption is set when the last recording was stopped by device loss or an encoder failure
	Interruption error
}

// Listener receives a snapshot after every state change and on every telemetry tick
type Listener func(Snapshot)

type SessionOptions struct {
	Countdown    int // Seconds of countdown before the first start, 0 disables it
	TickInterval time.Duration
	Clock        Clock
	Metrics      *metrics.Metrics
}

// Session is the single source of truth for one recorder: mode, settings, status,
// the held stream and the current recording.
type Session struct {
	acquirer devices.StreamAcquirer
	engine   *encoding.Engine
	files    filemanagement.FileTracker
	settings *config.MutableSettingsProvider[models.RecordingSettings]
	options  SessionOptions
	logger   common.Logger

	mu                 sync.Mutex
	mode               models.CaptureMode
	status             Status
	generation         uint64
	cancelStart        context.CancelFunc
	stream             *devices.Stream
	handle             *encoding.Handle
	stopwatch          *Stopwatch
	telemetry          encoding.Telemetry
	countdownRemaining int
	recording          *models.Recording
	err                error
	interruption       error
	stopTicker         chan struct{}
	closed             bool

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

func NewSession(
	acquirer devices.StreamAcquirer,
	engine *encoding.Engine,
	files filemanagement.FileTracker,
	mode models.CaptureMode,
	settings models.RecordingSettings,
	options SessionOptions,
	logger common.Logger,
) *Session {
	if options.Clock == nil {
		options.Clock = SystemClock
	}
	if options.TickInterval <= 0 {
		options.TickInterval = 100 * time.Millisecond
	}
	if !mode.IsValid() {
		mode = models.CaptureModeScreen
	}
	if settings.Validate() != nil {
		settings = models.DefaultRecordingSettings
	}

	return &Session{
		acquirer:  acquirer,
		engine:    engine,
		files:     files,
		settings:  config.NewMutableSettingsProvider(settings),
		options:   options,
		logger:    common.LoggerOrNop(logger),
		mode:      mode,
		status:    StatusIdle,
		stopwatch: NewStopwatch(options.Clock),
		listeners: make(map[int]Listener),
	}
}

// Settings exposes the session's settings provider
func (s *Session) Settings() config.SettingsProvider[models.RecordingSettings] {
	return s.settings
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Mode:               s.mode,
		Settings:           s.settings.GetSettings(),
		Status:             s.status,
		Elapsed:            s.stopwatch.Elapsed(),
		Chunks:             s.telemetry.Chunks,
		SizeBytes:          s.telemetry.Bytes,
		HumanSize:          humanize.Bytes(uint64(s.telemetry.Bytes)),
		CountdownRemaining: s.countdownRemaining,
		Recording:          s.recording,
		Err:                s.err,
		Message:            UserMessage(s.err),
		Interruption:       s.interruption,
	}
}

// Recording returns the current finished recording, or nil
func (s *Session) Recording() *models.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Subscribe registers listener and returns a function that removes it
func (s *Session) Subscribe(listener Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Session) notify() {
	snapshot := s.Snapshot()

	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenersMu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// SelectMode changes the capture mode. Only valid while idle.
func (s *Session) SelectMode(mode models.CaptureMode) error {
	if !mode.IsValid() {
		return devices.NewUnsupportedModeError(string(mode))
	}

	s.mu.Lock()
	if s.status != StatusIdle {
		defer s.mu.Unlock()
		return NewInvalidTransitionError("select mode", s.status)
	}
	s.mode = mode
	s.mu.Unlock()

	s.notify()
	return nil
}

// UpdateSettings applies a partial settings update. Only valid while idle.
func (s *Session) UpdateSettings(patch models.SettingsPatch) (models.RecordingSettings, error) {
	s.mu.Lock()
	if s.status != StatusIdle {
		defer s.mu.Unlock()
		return s.settings.GetSettings(), NewInvalidTransitionError("update settings", s.status)
	}
	updated, err := s.settings.Update(func(current models.RecordingSettings) (models.RecordingSettings, error) {
		return current.Apply(patch)
	})
	s.mu.Unlock()

	if err != nil {
		return updated, err
	}
	s.notify()
	return updated, nil
}

// Start runs the countdown (if configured), acquires the stream and begins encoding.
// On an access failure the session returns to idle carrying the typed error; the
// previous recording is left untouched.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrCancelled
	}
	if s.status != StatusIdle {
		defer s.mu.Unlock()
		return NewInvalidTransitionError("start", s.status)
	}

	s.generation++
	generation := s.generation
	startCtx, cancel := context.WithCancel(ctx)
	s.cancelStart = cancel
	s.err = nil
	s.interruption = nil
	mode := s.mode
	settings := s.settings.GetSettings()
	countdown := s.options.Countdown
	if countdown > 0 {
		s.status = StatusCountdown
		s.countdownRemaining = countdown
	} else {
		s.status = StatusRequestingAccess
	}
	s.mu.Unlock()
	defer cancel()

	s.notify()

	if countdown > 0 {
		if err := s.runCountdown(startCtx, generation, countdown); err != nil {
			return err
		}
	}

	s.logger.Info("Requesting capture access", "mode", mode, "quality", settings.Quality, "frame_rate", settings.FrameRate)

	stream, err := s.acquirer.AcquireStream(startCtx, mode, settings)

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		if err == nil {
			_ = s.acquirer.Release()
		}
		return ErrCancelled
	}
	if err != nil {
		s.failStartLocked(err)
		s.mu.Unlock()
		s.logger.Warn("Capture access failed", "mode", mode, "error", err)
		s.options.Metrics.SessionFailed(FailureReason(err))
		s.notify()
		return err
	}
	s.mu.Unlock()

	handle, err := s.engine.BeginEncoding(startCtx, stream, mode, settings, encoding.Callbacks{
		OnChunk: func(telemetry encoding.Telemetry) { s.onChunk(generation, telemetry) },
		OnError: func(err error) { s.interrupt(generation, err) },
	})

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		if handle != nil {
			handle.Abort()
		}
		_ = s.acquirer.Release()
		return ErrCancelled
	}
	if err != nil {
		s.failStartLocked(err)
		s.mu.Unlock()
		_ = s.acquirer.Release()
		s.logger.Error("Failed to begin encoding", "mode", mode, "error", err)
		s.options.Metrics.SessionFailed(FailureReason(err))
		s.notify()
		return err
	}

	s.cancelStart = nil
	s.stream = stream
	s.handle = handle
	s.telemetry = encoding.Telemetry{}
	s.stopwatch.Start()
	s.status = StatusRecording
	s.stopTicker = make(chan struct{})
	go s.tick(s.stopTicker)
	s.mu.Unlock()

	stream.OnTrackEnded(func(track *devices.Track, err error) {
		s.interrupt(generation, err)
	})

	s.options.Metrics.SessionStarted(string(mode))
	s.logger.Info("Recording started", "mode", mode, "mime_type", handle.MimeType(), "stream", stream.ID())
	s.notify()
	return nil
}

func (s *Session) failStartLocked(err error) {
	s.status = StatusIdle
	s.err = err
	s.countdownRemaining = 0
	s.cancelStart = nil
}

func (s *Session) runCountdown(ctx context.Context, generation uint64, seconds int) error {
	for remaining := seconds; remaining > 0; remaining-- {
		select {
		case <-s.options.Clock.After(time.Second):
		case <-ctx.Done():
			s.mu.Lock()
			if s.generation == generation {
				s.failStartLocked(ctx.Err())
				s.mu.Unlock()
				s.notify()
				return ctx.Err()
			}
			s.mu.Unlock()
			return ErrCancelled
		}

		s.mu.Lock()
		if s.generation != generation {
			s.mu.Unlock()
			return ErrCancelled
		}
		s.countdownRemaining = remaining - 1
		if s.countdownRemaining == 0 {
			s.status = StatusRequestingAccess
		}
		s.mu.Unlock()
		s.notify()
	}
	return nil
}

func (s *Session) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(s.options.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.notify()
		case <-stop:
			return
		}
	}
}

func (s *Session) stopTickerLocked() {
	if s.stopTicker != nil {
		close(s.stopTicker)
		s.stopTicker = nil
	}
}

func (s *Session) onChunk(generation uint64, telemetry encoding.Telemetry) {
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return
	}
	added := telemetry.Bytes - s.telemetry.Bytes
	s.telemetry = telemetry
	s.mu.Unlock()

	s.options.Metrics.ChunkCaptured(int(added))
	s.notify()
}

// interrupt turns device loss or an encoder failure into a stop request
func (s *Session) interrupt(generation uint64, cause error) {
	s.mu.Lock()
	if s.generation != generation || (s.status != StatusRecording && s.status != StatusPaused) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Warn("Recording interrupted, stopping", "cause", cause)

	go func() {
		_, err := s.stop(context.Background(), cause, generation)
		if err != nil && !IsInvalidTransitionError(err) && !errors.Is(err, ErrCancelled) {
			s.logger.Error("Implicit stop failed", "error", err)
		}
	}()
}

// Pause freezes the timer and suspends the encoder without discarding buffered chunks
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.status != StatusRecording {
		defer s.mu.Unlock()
		return NewInvalidTransitionError("pause", s.status)
	}
	s.handle.Pause()
	elapsed := s.stopwatch.Pause()
	s.status = StatusPaused
	s.mu.Unlock()

	s.logger.Info("Recording paused", "elapsed", elapsed)
	s.notify()
	return nil
}

// Resume continues recording on the stream acquired by Start
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.status != StatusPaused {
		defer s.mu.Unlock()
		return NewInvalidTransitionError("resume", s.status)
	}
	s.stopwatch.Resume()
	s.handle.Resume()
	s.status = StatusRecording
	s.mu.Unlock()

	s.logger.Info("Recording resumed")
	s.notify()
	return nil
}

// Stop finalizes the encoder, releases the stream and produces the recording.
// With zero captured chunks the session returns to idle with ErrNoDataCaptured.
func (s *Session) Stop(ctx context.Context) (*models.Recording, error) {
	return s.stop(ctx, nil, 0)
}

// stop finalizes the current recording. A non-zero expected generation makes it a no-op
// for any session run other than that one.
func (s *Session) stop(ctx context.Context, cause error, expected uint64) (*models.Recording, error) {
	s.mu.Lock()
	if expected != 0 && s.generation != expected {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	if s.status != StatusRecording && s.status != StatusPaused {
		defer s.mu.Unlock()
		return nil, NewInvalidTransitionError("stop", s.status)
	}
	generation := s.generation
	duration := s.stopwatch.Stop()
	handle := s.handle
	mode := s.mode
	s.status = StatusStopping
	// the acquirer keeps ownership of the stream until Release below
	s.stream = nil
	s.interruption = cause
	s.stopTickerLocked()
	s.mu.Unlock()

	s.notify()

	blob, err := handle.Finalize(ctx)

	if releaseErr := s.acquirer.Release(); releaseErr != nil {
		s.logger.Warn("Failed to release capture stream", "error", releaseErr)
	}
	s.options.Metrics.SessionEnded()

	var recording *models.Recording
	if err == nil {
		recording = &models.Recording{
			ID:        uuid.NewString(),
			Mode:      mode,
			Blob:      blob,
			Duration:  duration,
			CreatedAt: s.options.Clock.Now(),
		}
		if playable, publishErr := s.files.Publish(blob); publishErr != nil {
			s.logger.Warn("Failed to publish playable recording", "error", publishErr)
		} else {
			recording.PlayableURL = playable
		}
	}

	s.mu.Lock()
	if s.generation != generation {
		// Reset or Close ran while finalizing
		s.mu.Unlock()
		if recording != nil {
			s.files.Release(recording.PlayableURL)
		}
		return nil, ErrCancelled
	}
	s.handle = nil
	s.status = StatusIdle
	s.telemetry = encoding.Telemetry{}
	var previous *models.Recording
	if err != nil {
		s.err = err
	} else {
		previous = s.recording
		s.recording = recording
		s.err = nil
	}
	s.mu.Unlock()

	if previous != nil {
		s.files.Release(previous.PlayableURL)
	}

	if err != nil {
		if errors.Is(err, ErrNoDataCaptured) {
			s.logger.Warn("Recording stopped without data", "mode", mode)
		} else {
			s.logger.Error("Failed to finalize recording", "mode", mode, "error", err)
		}
		s.options.Metrics.SessionFailed(FailureReason(err))
		s.notify()
		return nil, err
	}

	s.options.Metrics.RecordingFinished(duration)
	s.logger.Info("Recording finished", "id", recording.ID, "mode", mode, "duration", duration,
		"size", humanize.Bytes(uint64(blob.Size())), "mime_type", blob.MimeType)
	s.notify()
	return recording, nil
}

// ReplaceRecording swaps the current recording for an edited one and releases the previous
// playable handle. Only valid while idle. A Reset, Close or new recording that lands while
// the replacement is being published wins, and the replacement is released again.
func (s *Session) ReplaceRecording(recording *models.Recording) (*models.Recording, error) {
	if recording == nil || recording.Blob.IsEmpty() {
		return nil, ErrNoDataCaptured
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	if s.status != StatusIdle {
		defer s.mu.Unlock()
		return nil, NewInvalidTransitionError("replace recording", s.status)
	}
	generation := s.generation
	s.mu.Unlock()

	replacement := *recording
	published := false
	if replacement.PlayableURL == "" {
		playable, err := s.files.Publish(replacement.Blob)
		if err != nil {
			s.logger.Warn("Failed to publish edited recording", "error", err)
		} else {
			replacement.PlayableURL = playable
			published = true
		}
	}

	s.mu.Lock()
	if s.closed || s.generation != generation || s.status != StatusIdle {
		s.mu.Unlock()
		if published {
			s.files.Release(replacement.PlayableURL)
		}
		return nil, ErrCancelled
	}
	previous := s.recording
	s.recording = &replacement
	s.mu.Unlock()

	if previous != nil && previous.PlayableURL != replacement.PlayableURL {
		s.files.Release(previous.PlayableURL)
	}

	s.notify()
	return &replacement, nil
}

// Reset releases the stream, the recording and its playable handle and returns to idle,
// keeping mode and settings. Calling it repeatedly is harmless.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.status == StatusStopping {
		defer s.mu.Unlock()
		return NewInvalidTransitionError("reset", s.status)
	}
	handle, recording, wasCapturing := s.teardownLocked()
	s.mu.Unlock()

	s.release(handle, recording, wasCapturing)
	s.notify()
	return nil
}

// teardownLocked clears all session-owned state and returns what still has to be released
func (s *Session) teardownLocked() (*encoding.Handle, *models.Recording, bool) {
	wasCapturing := s.status == StatusRecording || s.status == StatusPaused

	s.generation++
	if s.cancelStart != nil {
		s.cancelStart()
		s.cancelStart = nil
	}
	s.stopTickerLocked()

	handle := s.handle
	recording := s.recording
	s.handle = nil
	s.stream = nil
	s.recording = nil
	s.telemetry = encoding.Telemetry{}
	s.stopwatch.Reset()
	s.countdownRemaining = 0
	s.err = nil
	s.interruption = nil
	s.status = StatusIdle

	return handle, recording, wasCapturing
}

func (s *Session) release(handle *encoding.Handle, recording *models.Recording, wasCapturing bool) {
	if handle != nil {
		handle.Abort()
	}
	if err := s.acquirer.Release(); err != nil {
		s.logger.Warn("Failed to release capture stream", "error", err)
	}
	if wasCapturing {
		s.options.Metrics.SessionEnded()
	}
	if recording != nil {
		s.files.Release(recording.PlayableURL)
	}
}

// Close tears the session down for good. Listeners are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handle, recording, wasCapturing := s.teardownLocked()
	s.mu.Unlock()

	s.release(handle, recording, wasCapturing)

	s.listenersMu.Lock()
	clear(s.listeners)
	s.listenersMu.Unlock()

	s.logger.Debug("Recording session closed")
}
