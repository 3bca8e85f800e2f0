package compositing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/devices"
	filemanagement "github.com/yeti47/cryospy/screencap/file-management"
	"github.com/yeti47/cryospy/screencap/models"
	"gocv.io/x/gocv"
)

var ErrSourceClosed = errors.New("frame source closed")

// FrameSource decodes frames of a finished recording at arbitrary timestamps
type FrameSource interface {
	Seek(ctx context.Context, at time.Duration) (*image.RGBA, error)
	Duration() time.Duration
	Close() error
}

// FrameSourceFactory opens a frame source for a recording
type FrameSourceFactory interface {
	OpenSource(recording *models.Recording) (FrameSource, error)
}

// GoCVSourceFactory materializes the recording blob to a temp file and decodes it with OpenCV
type GoCVSourceFactory struct {
	files  filemanagement.FileTracker
	logger common.Logger
}

func NewGoCVSourceFactory(files filemanagement.FileTracker, logger common.Logger) *GoCVSourceFactory {
	return &GoCVSourceFactory{files: files, logger: common.LoggerOrNop(logger)}
}

func (f *GoCVSourceFactory) OpenSource(recording *models.Recording) (FrameSource, error) {
	path, err := f.files.Materialize(recording.Blob, "composite-src-*")
	if err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		f.files.DeleteFile(path)
		return nil, fmt.Errorf("failed to open recording for decoding: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		f.files.DeleteFile(path)
		return nil, fmt.Errorf("recording %s could not be decoded", recording.ID)
	}

	duration := recording.Duration
	fps := capture.Get(gocv.VideoCaptureFPS)
	frames := capture.Get(gocv.VideoCaptureFrameCount)
	if fps > 0 && frames > 0 {
		// Streamed webm often reports no frame count, keep the recorded duration then
		duration = time.Duration(frames / fps * float64(time.Second))
	}

	f.logger.Debug("Opened frame source", "recording", recording.ID, "path", path, "duration", duration,
		"width", capture.Get(gocv.VideoCaptureFrameWidth), "height", capture.Get(gocv.VideoCaptureFrameHeight))

	return &GoCVFrameSource{
		capture:  capture,
		frame:    gocv.NewMat(),
		path:     path,
		duration: duration,
		files:    f.files,
	}, nil
}

// GoCVFrameSource seeks by position in milliseconds
type GoCVFrameSource struct {
	mu       sync.Mutex
	capture  *gocv.VideoCapture
	frame    gocv.Mat
	path     string
	duration time.Duration
	files    filemanagement.FileTracker
	closed   bool
}

func (s *GoCVFrameSource) Seek(ctx context.Context, at time.Duration) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}

	s.capture.Set(gocv.VideoCapturePosMsec, float64(at.Milliseconds()))
	if ok := s.capture.Read(&s.frame); !ok {
		return nil, fmt.Errorf("failed to read frame at %v", at)
	}
	if s.frame.Empty() {
		return nil, fmt.Errorf("empty frame at %v", at)
	}

	img, err := s.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame at %v: %w", at, err)
	}
	return devices.ToRGBA(img), nil
}

func (s *GoCVFrameSource) Duration() time.Duration {
	return s.duration
}

func (s *GoCVFrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.frame.Close()
	err := s.capture.Close()
	s.files.DeleteFile(s.path)
	return err
}
