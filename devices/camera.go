package devices

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/resolution"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"
)

// maxCameraReadFailures is how many reads in a row may fail before the camera is treated as unplugged
const maxCameraReadFailures = 30

// OpenCameraTrack opens a camera through OpenCV. device is an index like "0".
func OpenCameraTrack(device string, constraints VideoConstraints, logger common.Logger) (*Track, error) {
	logger = common.LoggerOrNop(logger)

	// Parse device ID
	deviceID := 0
	if device != "" && device != "0" {
		if id, err := strconv.Atoi(device); err == nil {
			deviceID = id
		}
	}

	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, ClassifyError("camera", fmt.Errorf("failed to open webcam: %w", err))
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, NewDeviceUnavailableError("camera", fmt.Errorf("camera %s could not be opened", device))
	}

	if constraints.Width > 0 && constraints.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(constraints.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(constraints.Height))
	}
	if constraints.FrameRate > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(constraints.FrameRate))
	}

	// Get actual dimensions
	width := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	height := int(webcam.Get(gocv.VideoCaptureFrameHeight))
	if width == 0 || height == 0 {
		width, height = 640, 480 // Default fallback resolution
	}

	frameRate := constraints.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}

	settings := TrackSettings{
		Width:     width &^ 1,
		Height:    height &^ 1,
		FrameRate: frameRate,
		DeviceID:  "camera:" + device,
	}

	size := resolution.Resolution{Width: settings.Width, Height: settings.Height}
	limiter := rate.NewLimiter(rate.Limit(frameRate), 1)

	// The track goroutine owns the webcam for its entire lifecycle, release included
	producer := func(ctx context.Context, emit func(Sample) bool) error {
		img := gocv.NewMat()
		defer img.Close()

		failures := 0
		for {
			if err := limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}

			if ok := webcam.Read(&img); !ok || img.Empty() {
				failures++
				if failures >= maxCameraReadFailures {
					return NewDeviceUnavailableError("camera", errors.New("camera stopped delivering frames"))
				}
				continue
			}
			failures = 0

			frame, err := img.ToImage()
			if err != nil {
				logger.Warn("Failed to convert camera frame", "error", err)
				continue
			}

			if !emit(Sample{Frame: scaleFrame(toRGBA(frame), size)}) {
				return nil
			}
		}
	}

	release := func() error {
		logger.Debug("Closing webcam", "device", device)
		return webcam.Close()
	}

	logger.Info("Opened camera track", "device", device, "width", settings.Width, "height", settings.Height, "fps", frameRate)

	return NewTrack(KindVideo, "Camera "+device, settings, producer, release), nil
}
