package compositing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/metrics"
	"github.com/yeti47/cryospy/screencap/models"
)

const (
	DefaultFrameRate           = 30
	DefaultMaxConsecutiveFails = 3
)

// AbortedError reports a render that was cancelled or hit persistent frame failures.
// Partial output is discarded in both cases.
type AbortedError struct {
	Frame int
	Err   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("composite aborted at frame %d: %v", e.Frame, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

func NewAbortedError(frame int, err error) error {
	return &AbortedError{Frame: frame, Err: err}
}

func IsAbortedError(err error) bool {
	var abortedErr *AbortedError
	return errors.As(err, &abortedErr)
}

// Trimmer cuts a time window out of a blob without decoding frames
type Trimmer interface {
	Trim(ctx context.Context, blob models.Blob, start, end time.Duration) (models.Blob, error)
}

// Request describes one render of the window [Start, End] of a recording
type Request struct {
	Start       time.Duration
	End         time.Duration
	FrameRate   int
	Filters     FilterStack
	Annotations []Annotation
	Overlays    []TextOverlay
}

// IsPureTrim reports whether the request only cuts the recording
func (r Request) IsPureTrim() bool {
	if !r.Filters.IsIdentity() || len(r.Overlays) > 0 {
		return false
	}
	for _, a := range r.Annotations {
		if a.Visible {
			return false
		}
	}
	return true
}

// FrameCount is the number of output frames for the window [Start, End].
// A zero-length window yields exactly one frame.
func (r Request) FrameCount() int {
	return int(math.Floor((r.End-r.Start).Seconds()*float64(r.FrameRate))) + 1
}

// Timestamp returns the source position of output frame i
func (r Request) Timestamp(i int) time.Duration {
	return r.Start + time.Duration(float64(i)*float64(time.Second)/float64(r.FrameRate))
}

type Progress struct {
	Frame  int
	Frames int
}

func (p Progress) Fraction() float64 {
	if p.Frames == 0 {
		return 0
	}
	return float64(p.Frame) / float64(p.Frames)
}

type RendererSettings struct {
	MaxConsecutiveFailures int
	Metrics                *metrics.Metrics
	Clock                  func() time.Time
}

// Renderer drives the per-frame composite loop
type Renderer struct {
	sources  FrameSourceFactory
	sinks    FrameSinkFactory
	trimmer  Trimmer
	settings RendererSettings
	logger   common.Logger
}

// NewRenderer creates a renderer. trimmer may be nil, every request is composited then.
func NewRenderer(sources FrameSourceFactory, sinks FrameSinkFactory, trimmer Trimmer, settings RendererSettings, logger common.Logger) *Renderer {
	if settings.MaxConsecutiveFailures <= 0 {
		settings.MaxConsecutiveFailures = DefaultMaxConsecutiveFails
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	return &Renderer{
		sources:  sources,
		sinks:    sinks,
		trimmer:  trimmer,
		settings: settings,
		logger:   common.LoggerOrNop(logger),
	}
}

// normalize validates the window against the recording and fills defaults
func (r *Renderer) normalize(recording *models.Recording, req Request) (Request, error) {
	if req.FrameRate <= 0 {
		req.FrameRate = DefaultFrameRate
	}
	if recording.Duration > 0 && req.End > recording.Duration {
		req.End = recording.Duration
	}
	if req.Start < 0 || req.End < req.Start {
		return req, fmt.Errorf("invalid trim range [%v, %v]", req.Start, req.End)
	}
	return req, nil
}

// RenderComposite produces a new recording with the requested trim, filters, annotations and overlays.
// Audio recordings are returned unchanged. The returned recording has no playable handle yet.
func (r *Renderer) RenderComposite(ctx context.Context, recording *models.Recording, req Request, progress func(Progress)) (*models.Recording, error) {
	if recording == nil || recording.Blob.IsEmpty() {
		return nil, models.ErrEmptyRecording
	}
	if !recording.Mode.IsVideo() {
		return recording, nil
	}

	req, err := r.normalize(recording, req)
	if err != nil {
		return nil, err
	}

	// a zero-length window is always composited, it yields exactly one frame
	if req.IsPureTrim() && req.End > req.Start {
		if req.Start == 0 && req.End == recording.Duration {
			return recording, nil
		}
		if r.trimmer != nil {
			blob, err := r.trimmer.Trim(ctx, recording.Blob, req.Start, req.End)
			if err == nil {
				r.logger.Info("Trimmed recording without compositing", "recording", recording.ID, "start", req.Start, "end", req.End)
				return r.derived(recording, blob, req), nil
			}
			if ctx.Err() != nil {
				r.settings.Metrics.CompositeAborted()
				return nil, NewAbortedError(0, ctx.Err())
			}
			r.logger.Warn("Fast trim failed, compositing frames instead", "recording", recording.ID, "error", err)
		}
	}

	started := r.settings.Clock()
	blob, err := r.composite(ctx, recording, req, progress)
	if err != nil {
		if IsAbortedError(err) {
			r.settings.Metrics.CompositeAborted()
		}
		return nil, err
	}
	r.settings.Metrics.RenderFinished(r.settings.Clock().Sub(started))

	return r.derived(recording, blob, req), nil
}

func (r *Renderer) derived(source *models.Recording, blob models.Blob, req Request) *models.Recording {
	return &models.Recording{
		ID:        uuid.NewString(),
		Mode:      source.Mode,
		Blob:      blob,
		Duration:  req.End - req.Start,
		CreatedAt: r.settings.Clock(),
		SourceID:  source.ID,
	}
}

func (r *Renderer) composite(ctx context.Context, recording *models.Recording, req Request, progress func(Progress)) (models.Blob, error) {
	source, err := r.sources.OpenSource(recording)
	if err != nil {
		return models.Blob{}, fmt.Errorf("failed to open frame source: %w", err)
	}
	defer source.Close()

	sink, err := r.sinks.OpenSink(recording.Mode, req.FrameRate)
	if err != nil {
		return models.Blob{}, fmt.Errorf("failed to open frame sink: %w", err)
	}

	frames := req.FrameCount()
	r.logger.Info("Compositing recording", "recording", recording.ID, "frames", frames,
		"start", req.Start, "end", req.End, "frame_rate", req.FrameRate)

	var previous *image.RGBA
	consecutiveFailures := 0

	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			sink.Abort()
			return models.Blob{}, NewAbortedError(i, err)
		}

		at := req.Timestamp(i)
		src, err := r.seek(ctx, source, at)
		if err != nil {
			if ctx.Err() != nil {
				sink.Abort()
				return models.Blob{}, NewAbortedError(i, ctx.Err())
			}
			consecutiveFailures++
			r.logger.Warn("Failed to decode frame", "frame", i, "at", at, "consecutive_failures", consecutiveFailures, "error", err)
			if consecutiveFailures >= r.settings.MaxConsecutiveFailures {
				sink.Abort()
				return models.Blob{}, NewAbortedError(i, err)
			}
			// the previous frame is repeated, nothing to repeat before the first decoded frame
		} else {
			consecutiveFailures = 0
			previous, err = CompositeFrame(src, req.Filters, req.Annotations, req.Overlays, at, nil)
			if err != nil {
				sink.Abort()
				return models.Blob{}, NewAbortedError(i, err)
			}
		}

		if previous != nil {
			if err := sink.WriteFrame(ctx, previous); err != nil {
				sink.Abort()
				return models.Blob{}, NewAbortedError(i, err)
			}
			r.settings.Metrics.FrameComposited()
		}
		if progress != nil {
			progress(Progress{Frame: i + 1, Frames: frames})
		}
	}

	blob, err := sink.Finish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return models.Blob{}, NewAbortedError(frames, ctx.Err())
		}
		return models.Blob{}, fmt.Errorf("failed to finish composite: %w", err)
	}
	return blob, nil
}

// seek retries a failed seek once
func (r *Renderer) seek(ctx context.Context, source FrameSource, at time.Duration) (*image.RGBA, error) {
	frame, err := source.Seek(ctx, at)
	if err == nil || ctx.Err() != nil {
		return frame, err
	}
	return source.Seek(ctx, at)
}
