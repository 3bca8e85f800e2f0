package devices

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"
)

// FakeBackend produces synthetic streams. It is used when no capture hardware is present and in tests.
type FakeBackend struct {
	mu sync.Mutex

	DisplayErr    error
	CameraErr     error
	MicrophoneErr error

	FrameInterval time.Duration // Delay between synthetic samples, 10ms when zero

	requests []string
	lost     chan struct{}
	loseOnce sync.Once
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{lost: make(chan struct{})}
}

// Requests returns the device requests made so far, in order ("display", "camera", "microphone")
func (f *FakeBackend) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// SimulateDeviceLoss ends every fake track that is currently live as if its device vanished
func (f *FakeBackend) SimulateDeviceLoss() {
	f.loseOnce.Do(func() { close(f.lost) })
}

func (f *FakeBackend) record(device string) {
	f.mu.Lock()
	f.requests = append(f.requests, device)
	f.mu.Unlock()
}

func (f *FakeBackend) interval() time.Duration {
	if f.FrameInterval > 0 {
		return f.FrameInterval
	}
	return 10 * time.Millisecond
}

func (f *FakeBackend) GetDisplayMedia(ctx context.Context, constraints DisplayConstraints) (*Stream, error) {
	f.record("display")
	if f.DisplayErr != nil {
		return nil, f.DisplayErr
	}
	return NewStream(f.videoTrack("Fake display", constraints.Video)), nil
}

func (f *FakeBackend) GetUserMedia(ctx context.Context, constraints UserMediaConstraints) (*Stream, error) {
	stream := NewStream()
	if constraints.Video != nil {
		f.record("camera")
		if f.CameraErr != nil {
			return nil, f.CameraErr
		}
		stream.AddTrack(f.videoTrack("Fake camera", *constraints.Video))
	}
	if constraints.Audio != nil {
		f.record("microphone")
		if f.MicrophoneErr != nil {
			_ = stream.Stop()
			return nil, f.MicrophoneErr
		}
		stream.AddTrack(f.audioTrack(*constraints.Audio))
	}
	return stream, nil
}

func (f *FakeBackend) videoTrack(label string, constraints VideoConstraints) *Track {
	width, height := constraints.Width, constraints.Height
	if width <= 0 || height <= 0 {
		width, height = 64, 36
	}
	settings := TrackSettings{Width: width, Height: height, FrameRate: constraints.FrameRate, Cursor: constraints.Cursor, DeviceID: "fake"}
	interval := f.interval()

	producer := func(ctx context.Context, emit func(Sample) bool) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.lost:
				return ErrTrackEnded
			case <-ticker.C:
				if !emit(Sample{Frame: SolidFrame(width, height, color.RGBA{R: uint8(n), G: 64, B: 128, A: 255})}) {
					return nil
				}
			}
		}
	}
	return NewTrack(KindVideo, label, settings, producer, nil)
}

func (f *FakeBackend) audioTrack(constraints AudioConstraints) *Track {
	sampleRate := max(constraints.SampleRate, 8000)
	channels := max(constraints.Channels, 1)
	settings := TrackSettings{SampleRate: sampleRate, Channels: channels, DeviceID: "fake"}
	interval := f.interval()
	blockLen := int(float64(sampleRate)*interval.Seconds()) * channels

	producer := func(ctx context.Context, emit func(Sample) bool) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.lost:
				return ErrTrackEnded
			case <-ticker.C:
				if !emit(Sample{PCM: make([]int16, blockLen)}) {
					return nil
				}
			}
		}
	}
	return NewTrack(KindAudio, "Fake microphone", settings, producer, nil)
}

// SolidFrame returns a width x height frame filled with c
func SolidFrame(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}
