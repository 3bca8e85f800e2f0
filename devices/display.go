package devices

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/resolution"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/time/rate"
)

// maxDisplayCaptureFailures is how many captures in a row may fail before the display track ends
const maxDisplayCaptureFailures = 10

// OpenDisplayTrack captures the display at displayIndex at the requested frame rate,
// scaled down to fit the requested resolution.
func OpenDisplayTrack(displayIndex int, constraints VideoConstraints, logger common.Logger) (*Track, error) {
	logger = common.LoggerOrNop(logger)

	if displayIndex < 0 || displayIndex >= screenshot.NumActiveDisplays() {
		return nil, NewDeviceUnavailableError("display", fmt.Errorf("display %d not found", displayIndex))
	}

	bounds := screenshot.GetDisplayBounds(displayIndex)
	if bounds.Empty() {
		return nil, NewDeviceUnavailableError("display", errors.New("display has empty bounds"))
	}

	// A probe capture surfaces missing screen-recording permission before the track is handed out
	if _, err := screenshot.CaptureRect(bounds); err != nil {
		return nil, ClassifyError("display", err)
	}

	native := resolution.Resolution{Width: bounds.Dx(), Height: bounds.Dy()}
	target := native.FitWithin(resolution.Resolution{Width: constraints.Width, Height: constraints.Height})

	frameRate := constraints.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}

	settings := TrackSettings{
		Width:     target.Width,
		Height:    target.Height,
		FrameRate: frameRate,
		Cursor:    constraints.Cursor,
		DeviceID:  fmt.Sprintf("display:%d", displayIndex),
	}

	limiter := rate.NewLimiter(rate.Limit(frameRate), 1)

	producer := func(ctx context.Context, emit func(Sample) bool) error {
		failures := 0
		for {
			if err := limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}

			img, err := screenshot.CaptureRect(bounds)
			if err != nil {
				failures++
				logger.Warn("Display capture failed", "display", displayIndex, "failures", failures, "error", err)
				if failures >= maxDisplayCaptureFailures {
					return NewDeviceUnavailableError("display", err)
				}
				continue
			}
			failures = 0

			if !emit(Sample{Frame: scaleFrame(img, target)}) {
				return nil
			}
		}
	}

	logger.Info("Opened display track", "display", displayIndex, "native", native.String(), "target", target.String(), "fps", frameRate)

	return NewTrack(KindVideo, fmt.Sprintf("Display %d", displayIndex), settings, producer, nil), nil
}

// scaleFrame returns img scaled to target, or img itself when it already matches
func scaleFrame(img *image.RGBA, target resolution.Resolution) *image.RGBA {
	if img.Bounds().Dx() == target.Width && img.Bounds().Dy() == target.Height && img.Bounds().Min == (image.Point{}) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// toRGBA converts any decoded frame into a zero-origin *image.RGBA
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// ToRGBA exposes the frame conversion used by the capture tracks
func ToRGBA(img image.Image) *image.RGBA {
	return toRGBA(img)
}
