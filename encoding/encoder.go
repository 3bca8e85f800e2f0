package encoding

import (
	"context"
	"errors"
	"time"

	"github.com/yeti47/cryospy/screencap/devices"
)

// ErrNoDataCaptured is returned when a recording ends without a single encoded chunk
var ErrNoDataCaptured = errors.New("no data captured")

type EncoderOptions struct {
	MimeType     string
	Timeslice    time.Duration // How often buffered output is flushed as a chunk
	VideoBitRate string
	AudioBitRate string
}

// MediaEncoder turns a live stream into a sequence of container chunks
type MediaEncoder interface {
	IsTypeSupported(mimeType string) bool
	Open(ctx context.Context, stream *devices.Stream, options EncoderOptions) (EncoderSession, error)
}

// EncoderSession is one running encode.
// Chunks is closed after the final chunk has been delivered; Err is valid from then on.
type EncoderSession interface {
	Chunks() <-chan []byte
	Pause()
	Resume()
	// Stop requests the final flush. It does not wait for Chunks to close.
	Stop()
	Err() error
}
