package exporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/metrics"
	"github.com/yeti47/cryospy/screencap/models"
)

const timestampLayout = "2006-01-02_15-04-05.000"

// Transcoder converts a blob into another container. It is optional and may be unavailable at runtime.
type Transcoder interface {
	IsAvailable(ctx context.Context) bool
	Transcode(ctx context.Context, blob models.Blob, format Format) (models.Blob, error)
}

// Deliverable is an export ready to be written. Requested differs from Format when the
// coordinator fell back to the original container; Notice then tells the user why.
type Deliverable struct {
	Filename  string
	Requested Format
	Format    Format
	Blob      models.Blob
	Notice    string
}

func (d *Deliverable) IsFallback() bool {
	return d.Requested != d.Format
}

type CoordinatorSettings struct {
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Coordinator turns recordings into deliverable files
type Coordinator struct {
	transcoder Transcoder
	settings   CoordinatorSettings
	logger     common.Logger
}

// NewCoordinator creates a coordinator. transcoder may be nil, conversions then always fall back.
func NewCoordinator(transcoder Transcoder, settings CoordinatorSettings, logger common.Logger) *Coordinator {
	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	return &Coordinator{
		transcoder: transcoder,
		settings:   settings,
		logger:     common.LoggerOrNop(logger),
	}
}

// Export produces a deliverable of recording in format. A conversion that cannot be made
// delivers the original container under its true extension together with a notice.
func (c *Coordinator) Export(ctx context.Context, recording *models.Recording, format Format) (*Deliverable, error) {
	if recording == nil || recording.Blob.IsEmpty() {
		return nil, models.ErrEmptyRecording
	}
	if !IsOffered(recording.Mode, format) {
		return nil, NewFormatNotOfferedError(recording.Mode, format)
	}

	native := NativeFormat(recording.Blob)
	if format == native {
		return c.deliver(recording, format, recording.Blob, ""), nil
	}

	blob, err := c.transcode(ctx, recording.Blob, format)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		notice := fmt.Sprintf("%s export is not available (%v). The original %s file was delivered instead.",
			strings.ToUpper(string(format)), err, strings.ToUpper(string(native)))
		c.logger.Warn("Export fell back to the original container", "recording", recording.ID,
			"requested", format, "delivered", native, "error", err)
		deliverable := c.deliver(recording, native, recording.Blob, notice)
		deliverable.Requested = format
		c.settings.Metrics.Exported(string(format), string(native), true)
		return deliverable, nil
	}

	return c.deliver(recording, format, blob, ""), nil
}

func (c *Coordinator) transcode(ctx context.Context, blob models.Blob, format Format) (models.Blob, error) {
	if c.transcoder == nil || !c.transcoder.IsAvailable(ctx) {
		return models.Blob{}, NewTranscodeUnavailableError(format, nil)
	}
	out, err := c.transcoder.Transcode(ctx, blob, format)
	if err != nil {
		return models.Blob{}, NewTranscodeUnavailableError(format, err)
	}
	if out.IsEmpty() {
		return models.Blob{}, NewTranscodeUnavailableError(format, models.ErrEmptyRecording)
	}
	return out, nil
}

func (c *Coordinator) deliver(recording *models.Recording, format Format, blob models.Blob, notice string) *Deliverable {
	deliverable := &Deliverable{
		Filename:  Filename(recording, format, c.settings.Clock()),
		Requested: format,
		Format:    format,
		Blob:      blob,
		Notice:    notice,
	}
	if notice == "" {
		c.settings.Metrics.Exported(string(format), string(format), false)
	}
	c.logger.Info("Export ready", "recording", recording.ID, "filename", deliverable.Filename,
		"size", humanize.Bytes(uint64(blob.Size())))
	return deliverable
}

// Filename builds "<mode>-recording-<timestamp>[-edited].<ext>"
func Filename(recording *models.Recording, format Format, at time.Time) string {
	var b strings.Builder
	b.WriteString(string(recording.Mode))
	b.WriteString("-recording-")
	b.WriteString(at.Format(timestampLayout))
	if recording.IsEdited() {
		b.WriteString("-edited")
	}
	b.WriteString(common.ContainerToFileExtension(string(format), !recording.Mode.IsVideo()))
	return b.String()
}
