package compositing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/exporting"
	"github.com/yeti47/cryospy/screencap/models"
)

var (
	ErrEditorClosed       = errors.New("editor is closed")
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrRenderInProgress   = errors.New("a render is already in progress")
)

type Exporter interface {
	Export(ctx context.Context, recording *models.Recording, format exporting.Format) (*exporting.Deliverable, error)
}

// RecordingReplacer takes ownership of an edited recording, releasing the previous playable handle
type RecordingReplacer interface {
	ReplaceRecording(recording *models.Recording) (*models.Recording, error)
}

// Editor holds the edit state of one finished recording. Annotations, overlays and filters
// are discarded by Close unless a render was saved.
type Editor struct {
	recording *models.Recording
	renderer  *Renderer
	sources   FrameSourceFactory
	exporter  Exporter
	replacer  RecordingReplacer
	frameRate int
	logger    common.Logger

	mu           sync.Mutex
	trimStart    time.Duration
	trimEnd      time.Duration
	filters      FilterStack
	annotations  []Annotation
	overlays     []TextOverlay
	sketch       *Sketch
	preview      FrameSource
	cancelRender context.CancelFunc
	closed       bool
}

type EditorOptions struct {
	FrameRate int               // Output frame rate of renders, DefaultFrameRate when zero
	Replacer  RecordingReplacer // Optional, receives every rendered recording
}

func NewEditor(recording *models.Recording, renderer *Renderer, sources FrameSourceFactory, exporter Exporter, options EditorOptions, logger common.Logger) (*Editor, error) {
	if recording == nil || recording.Blob.IsEmpty() {
		return nil, models.ErrEmptyRecording
	}
	if options.FrameRate <= 0 {
		options.FrameRate = DefaultFrameRate
	}
	return &Editor{
		recording: recording,
		renderer:  renderer,
		sources:   sources,
		exporter:  exporter,
		replacer:  options.Replacer,
		frameRate: options.FrameRate,
		logger:    common.LoggerOrNop(logger),
		trimEnd:   recording.Duration,
		filters:   DefaultFilterStack(),
		sketch:    NewSketch(KindFreehand, color.RGBA{R: 255, A: 255}),
	}, nil
}

func (e *Editor) Recording() *models.Recording {
	return e.recording
}

// SetTrim selects the window [start, end] of the recording to keep
func (e *Editor) SetTrim(start, end time.Duration) error {
	if start < 0 || end < start {
		return fmt.Errorf("invalid trim range [%v, %v]", start, end)
	}
	if e.recording.Duration > 0 && end > e.recording.Duration {
		return fmt.Errorf("trim end %v is past the end of the recording (%v)", end, e.recording.Duration)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEditorClosed
	}
	e.trimStart, e.trimEnd = start, end
	return nil
}

func (e *Editor) Trim() (start, end time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trimStart, e.trimEnd
}

// AddAnnotation appends a to the committed annotations and returns its ID
func (e *Editor) AddAnnotation(a Annotation) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEditorClosed
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	e.annotations = append(e.annotations, a.clone())
	return a.ID, nil
}

func (e *Editor) RemoveAnnotation(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEditorClosed
	}
	i := e.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	e.annotations = slices.Delete(e.annotations, i, i+1)
	return nil
}

// ToggleAnnotationVisibility flips the visibility of an annotation and returns the new value
func (e *Editor) ToggleAnnotationVisibility(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrEditorClosed
	}
	i := e.indexOf(id)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	e.annotations[i].Visible = !e.annotations[i].Visible
	return e.annotations[i].Visible, nil
}

func (e *Editor) indexOf(id string) int {
	return slices.IndexFunc(e.annotations, func(a Annotation) bool { return a.ID == id })
}

// Annotations returns the committed annotations in creation order
func (e *Editor) Annotations() []Annotation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Annotation, len(e.annotations))
	for i, a := range e.annotations {
		out[i] = a.clone()
	}
	return out
}

func (e *Editor) AddTextOverlay(overlay TextOverlay) (string, error) {
	if overlay.End > 0 && overlay.End < overlay.Start {
		return "", fmt.Errorf("overlay ends (%v) before it starts (%v)", overlay.End, overlay.Start)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEditorClosed
	}
	if overlay.ID == "" {
		overlay.ID = uuid.NewString()
	}
	if overlay.FontSize <= 0 {
		overlay.FontSize = DefaultFontSize
	}
	e.overlays = append(e.overlays, overlay)
	return overlay.ID, nil
}

func (e *Editor) TextOverlays() []TextOverlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.overlays)
}

func (e *Editor) SetFilter(key FilterKey, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEditorClosed
	}
	filters, err := e.filters.Set(key, value)
	if err != nil {
		return err
	}
	e.filters = filters
	return nil
}

func (e *Editor) ResetFilters() {
	e.mu.Lock()
	e.filters = DefaultFilterStack()
	e.mu.Unlock()
}

func (e *Editor) Filters() FilterStack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// SetTool selects what the pointer draws next
func (e *Editor) SetTool(tool AnnotationKind, c color.RGBA, strokeWidth float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sketch.Cancel()
	e.sketch.Tool = tool
	e.sketch.Color = c
	if strokeWidth > 0 {
		e.sketch.StrokeWidth = strokeWidth
	}
}

// SetTextTool selects the text tool with the caption placed on the next pointer down
func (e *Editor) SetTextTool(caption string, c color.RGBA, fontSize float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sketch.Cancel()
	e.sketch.Tool = KindText
	e.sketch.Color = c
	e.sketch.Text = caption
	if fontSize > 0 {
		e.sketch.FontSize = fontSize
	}
}

func (e *Editor) PointerDown(p Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.sketch.PointerDown(p)
	}
}

func (e *Editor) PointerMove(p Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.sketch.PointerMove(p)
	}
}

// PointerUp commits the annotation drawn since PointerDown
func (e *Editor) PointerUp() (Annotation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Annotation{}, ErrEditorClosed
	}
	a, err := e.sketch.PointerUp()
	if err != nil {
		return Annotation{}, err
	}
	e.annotations = append(e.annotations, a)
	return a.clone(), nil
}

// Preview composites the frame at `at` with the current edits, including the annotation being drawn
func (e *Editor) Preview(ctx context.Context, at time.Duration) (*image.RGBA, error) {
	if !e.recording.Mode.IsVideo() {
		return nil, fmt.Errorf("%s recordings have no frames to preview", e.recording.Mode)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	if e.preview == nil {
		source, err := e.sources.OpenSource(e.recording)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.preview = source
	}
	source := e.preview
	filters := e.filters
	annotations := slices.Clone(e.annotations)
	overlays := slices.Clone(e.overlays)
	inProgress := e.sketch.Preview()
	e.mu.Unlock()

	frame, err := source.Seek(ctx, at)
	if err != nil {
		return nil, err
	}
	return CompositeFrame(frame, filters, annotations, overlays, at, inProgress)
}

func (e *Editor) request() Request {
	annotations := make([]Annotation, len(e.annotations))
	for i, a := range e.annotations {
		annotations[i] = a.clone()
	}
	return Request{
		Start:       e.trimStart,
		End:         e.trimEnd,
		FrameRate:   e.frameRate,
		Filters:     e.filters,
		Annotations: annotations,
		Overlays:    slices.Clone(e.overlays),
	}
}

// Render composites the recording with the current edits. Only one render runs at a time;
// Close aborts it.
func (e *Editor) Render(ctx context.Context, progress func(Progress)) (*models.Recording, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	if e.cancelRender != nil {
		e.mu.Unlock()
		return nil, ErrRenderInProgress
	}
	renderCtx, cancel := context.WithCancel(ctx)
	e.cancelRender = cancel
	req := e.request()
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancelRender = nil
		e.mu.Unlock()
	}()

	rendered, err := e.renderer.RenderComposite(renderCtx, e.recording, req, progress)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, NewAbortedError(0, ErrEditorClosed)
	}

	if e.replacer != nil && rendered != e.recording {
		replacement, err := e.replacer.ReplaceRecording(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to publish edited recording: %w", err)
		}
		rendered = replacement
	}
	return rendered, nil
}

// RenderAndExport renders the current edits and exports the result in format
func (e *Editor) RenderAndExport(ctx context.Context, format exporting.Format, progress func(Progress)) (*exporting.Deliverable, error) {
	if !exporting.IsOffered(e.recording.Mode, format) {
		return nil, exporting.NewFormatNotOfferedError(e.recording.Mode, format)
	}

	rendered, err := e.Render(ctx, progress)
	if err != nil {
		return nil, err
	}
	return e.exporter.Export(ctx, rendered, format)
}

// Close aborts an in-flight render and drops every unsaved edit
func (e *Editor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.cancelRender != nil {
		e.cancelRender()
	}
	preview := e.preview
	e.preview = nil
	e.annotations = nil
	e.overlays = nil
	e.sketch.Cancel()
	e.mu.Unlock()

	e.logger.Debug("Editor closed", "recording", e.recording.ID)
	if preview != nil {
		return preview.Close()
	}
	return nil
}
