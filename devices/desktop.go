package devices

import (
	"context"

	"github.com/yeti47/cryospy/screencap/common"
)

// DesktopBackend serves streams from the local display, an OpenCV camera and PulseAudio
type DesktopBackend struct {
	displayIndex int
	cameraDevice string
	logger       common.Logger
}

func NewDesktopBackend(displayIndex int, cameraDevice string, logger common.Logger) *DesktopBackend {
	return &DesktopBackend{
		displayIndex: displayIndex,
		cameraDevice: cameraDevice,
		logger:       common.LoggerOrNop(logger),
	}
}

func (b *DesktopBackend) GetDisplayMedia(ctx context.Context, constraints DisplayConstraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	track, err := OpenDisplayTrack(b.displayIndex, constraints.Video, b.logger)
	if err != nil {
		return nil, err
	}
	return NewStream(track), nil
}

// GetUserMedia opens every requested device or none of them
func (b *DesktopBackend) GetUserMedia(ctx context.Context, constraints UserMediaConstraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := NewStream()

	if constraints.Video != nil {
		track, err := OpenCameraTrack(b.cameraDevice, *constraints.Video, b.logger)
		if err != nil {
			return nil, err
		}
		stream.AddTrack(track)
	}

	if constraints.Audio != nil {
		track, err := OpenMicrophoneTrack(*constraints.Audio, b.logger)
		if err != nil {
			_ = stream.Stop()
			return nil, err
		}
		stream.AddTrack(track)
	}

	return stream, nil
}
