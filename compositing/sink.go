package compositing

import (
	"context"
	"fmt"
	"image"

	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/encoding"
	"github.com/yeti47/cryospy/screencap/models"
)

// FrameSink receives composited frames in timestamp order
type FrameSink interface {
	WriteFrame(ctx context.Context, frame *image.RGBA) error
	// Finish flushes the encoder and returns the composited blob
	Finish(ctx context.Context) (models.Blob, error)
	// Abort drops the partial output
	Abort()
}

// FrameSinkFactory opens a sink for one render
type FrameSinkFactory interface {
	OpenSink(mode models.CaptureMode, frameRate int) (FrameSink, error)
}

// EncoderSinkFactory encodes composited frames with the same chunked engine used for capture
type EncoderSinkFactory struct {
	engine *encoding.Engine
	logger common.Logger
}

func NewEncoderSinkFactory(engine *encoding.Engine, logger common.Logger) *EncoderSinkFactory {
	return &EncoderSinkFactory{engine: engine, logger: common.LoggerOrNop(logger)}
}

func (f *EncoderSinkFactory) OpenSink(mode models.CaptureMode, frameRate int) (FrameSink, error) {
	if !mode.IsVideo() {
		return nil, devices.NewUnsupportedModeError(string(mode))
	}
	return &EncoderSink{
		engine:    f.engine,
		mode:      mode,
		frameRate: frameRate,
		logger:    f.logger,
	}, nil
}

// EncoderSink starts encoding lazily on the first frame, once the output size is known.
// Frames are pushed through a TrackWriter so the encoder sees an ordinary video track.
type EncoderSink struct {
	engine    *encoding.Engine
	mode      models.CaptureMode
	frameRate int
	logger    common.Logger

	width, height int
	writer        *devices.TrackWriter
	stream        *devices.Stream
	handle        *encoding.Handle
	failed        chan error
}

func (s *EncoderSink) start(ctx context.Context, width, height int) error {
	s.width, s.height = width, height
	s.writer = devices.NewTrackWriter(devices.KindVideo, "Composited video", devices.TrackSettings{
		Width:     width,
		Height:    height,
		FrameRate: s.frameRate,
	})
	s.stream = devices.NewStream(s.writer.Track())
	s.failed = make(chan error, 1)

	settings := models.DefaultRecordingSettings
	settings.FrameRate = s.frameRate
	settings.IncludeAudio = false

	handle, err := s.engine.BeginEncoding(ctx, s.stream, s.mode, settings, encoding.Callbacks{
		OnError: func(err error) {
			select {
			case s.failed <- err:
			default:
			}
		},
	})
	if err != nil {
		s.writer.Close()
		s.stream.Stop()
		return err
	}
	s.handle = handle
	return nil
}

func (s *EncoderSink) WriteFrame(ctx context.Context, frame *image.RGBA) error {
	frame = evenSized(frame)
	if s.handle == nil {
		if err := s.start(ctx, frame.Rect.Dx(), frame.Rect.Dy()); err != nil {
			return err
		}
	}
	if frame.Rect.Dx() != s.width || frame.Rect.Dy() != s.height {
		return fmt.Errorf("frame size %dx%d differs from output size %dx%d", frame.Rect.Dx(), frame.Rect.Dy(), s.width, s.height)
	}

	select {
	case err := <-s.failed:
		return fmt.Errorf("encoder failed: %w", err)
	default:
	}
	return s.writer.Write(ctx, devices.Sample{Frame: frame})
}

func (s *EncoderSink) Finish(ctx context.Context) (models.Blob, error) {
	if s.handle == nil {
		return models.Blob{}, encoding.ErrNoDataCaptured
	}
	s.writer.Close()
	blob, err := s.handle.Finalize(ctx)
	if stopErr := s.stream.Stop(); stopErr != nil {
		s.logger.Warn("Failed to stop composite stream", "error", stopErr)
	}
	return blob, err
}

func (s *EncoderSink) Abort() {
	if s.handle == nil {
		return
	}
	s.writer.Close()
	s.handle.Abort()
	s.stream.Stop()
}

// evenSized crops one pixel row or column when needed, yuv420p output requires even dimensions
func evenSized(frame *image.RGBA) *image.RGBA {
	width, height := frame.Rect.Dx(), frame.Rect.Dy()
	if width%2 == 0 && height%2 == 0 {
		return frame
	}
	crop := image.Rect(0, 0, width&^1, height&^1).Add(frame.Rect.Min)
	return devices.ToRGBA(frame.SubImage(crop))
}
