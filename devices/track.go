package devices

import (
	"context"
	"image"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// sampleBuffer is how many samples a live track holds before its producer blocks
const sampleBuffer = 8

// TrackSettings describes what a track actually delivers
type TrackSettings struct {
	Width      int
	Height     int
	FrameRate  int
	Cursor     bool
	SampleRate int
	Channels   int
	DeviceID   string
}

// Sample is one unit of captured media: a video frame or a block of interleaved s16 PCM
type Sample struct {
	Frame *image.RGBA
	PCM   []int16
}

// Producer feeds samples into a track until ctx is cancelled or the source fails.
// emit returns false once the track is stopped.
type Producer func(ctx context.Context, emit func(Sample) bool) error

// EndedHandler is called when a track ends without Stop being called
type EndedHandler func(track *Track, err error)

// Track is a single live audio or video channel
type Track struct {
	id       string
	kind     Kind
	label    string
	settings TrackSettings

	samples chan Sample
	cancel  context.CancelFunc
	done    chan struct{}
	release func() error

	mu         sync.Mutex
	stopped    bool
	ended      bool
	endErr     error
	releaseErr error
	handlers   []EndedHandler
}

// NewTrack starts producer in its own goroutine. release, if set, runs on that same
// goroutine after the producer returns, so device handles never cross goroutines.
func NewTrack(kind Kind, label string, settings TrackSettings, producer Producer, release func() error) *Track {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Track{
		id:       uuid.NewString(),
		kind:     kind,
		label:    label,
		settings: settings,
		samples:  make(chan Sample, sampleBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		release:  release,
	}
	go t.run(ctx, producer)
	return t
}

func (t *Track) run(ctx context.Context, producer Producer) {
	defer close(t.done)

	emit := func(s Sample) bool {
		select {
		case t.samples <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := producer(ctx, emit)
	close(t.samples)

	var releaseErr error
	if t.release != nil {
		releaseErr = t.release()
	}

	t.mu.Lock()
	t.ended = true
	t.releaseErr = releaseErr
	unexpected := !t.stopped
	if unexpected && err == nil {
		err = ErrTrackEnded
	}
	if unexpected {
		t.endErr = err
	}
	handlers := slices.Clone(t.handlers)
	t.mu.Unlock()

	if unexpected {
		for _, handler := range handlers {
			handler(t, err)
		}
	}
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() Kind              { return t.kind }
func (t *Track) Label() string           { return t.label }
func (t *Track) Settings() TrackSettings { return t.settings }

// Samples returns the channel of captured samples. It is closed when the track ends.
func (t *Track) Samples() <-chan Sample {
	return t.samples
}

// Done is closed once the producer has returned and the device is released
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Ended reports whether the track has stopped producing
func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Err returns the reason the track ended unexpectedly, or nil
func (t *Track) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endErr
}

// OnEnded registers a handler for unexpected end of the track.
// If the track already ended unexpectedly the handler is invoked right away on a new goroutine.
func (t *Track) OnEnded(handler EndedHandler) {
	t.mu.Lock()
	if t.ended {
		err := t.endErr
		t.mu.Unlock()
		if err != nil {
			go handler(t, err)
		}
		return
	}
	t.handlers = append(t.handlers, handler)
	t.mu.Unlock()
}

// Stop ends the track and releases its device. Safe to call more than once;
// only the first call reports the release error.
func (t *Track) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		<-t.done
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	t.cancel()
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releaseErr
}

// TrackWriter is a track fed by explicit writes instead of a capture device
type TrackWriter struct {
	track     *Track
	input     chan Sample
	closed    chan struct{}
	closeOnce sync.Once
}

// NewTrackWriter creates a push-driven track. Write blocks until the sample is handed to the track.
func NewTrackWriter(kind Kind, label string, settings TrackSettings) *TrackWriter {
	w := &TrackWriter{
		input:  make(chan Sample),
		closed: make(chan struct{}),
	}
	w.track = NewTrack(kind, label, settings, w.produce, nil)
	return w
}

func (w *TrackWriter) produce(ctx context.Context, emit func(Sample) bool) error {
	for {
		select {
		case s := <-w.input:
			if !emit(s) {
				return nil
			}
		case <-w.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Track returns the track fed by this writer
func (w *TrackWriter) Track() *Track {
	return w.track
}

// Write hands a sample to the track
func (w *TrackWriter) Write(ctx context.Context, s Sample) error {
	select {
	case w.input <- s:
		return nil
	case <-w.closed:
		return ErrWriterClosed
	case <-w.track.Done():
		return ErrTrackEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the track after all written samples have been handed over
func (w *TrackWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
	})
}
