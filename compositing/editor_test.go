package compositing

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/encoding"
	"github.com/yeti47/cryospy/screencap/exporting"
	"github.com/yeti47/cryospy/screencap/models"
)

type fakeReplacer struct {
	replaced []*models.Recording
}

func (f *fakeReplacer) ReplaceRecording(recording *models.Recording) (*models.Recording, error) {
	f.replaced = append(f.replaced, recording)
	return recording.WithPlayableURL("file:///tmp/edited"), nil
}

type editorRig struct {
	*renderRig
	replacer *fakeReplacer
	editor   *Editor
}

func newEditorRig(t *testing.T, recording *models.Recording) *editorRig {
	t.Helper()
	rig := &editorRig{renderRig: newRenderRig(), replacer: &fakeReplacer{}}
	exporter := exporting.NewCoordinator(nil, exporting.CoordinatorSettings{}, nil)

	editor, err := NewEditor(recording, rig.renderer, rig.sources, exporter, EditorOptions{Replacer: rig.replacer}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { editor.Close() })
	rig.editor = editor
	return rig
}

func TestEditorTrimValidation(t *testing.T) {
	rig := newEditorRig(t, screenRecording())

	start, end := rig.editor.Trim()
	assert.Zero(t, start)
	assert.Equal(t, 10*time.Second, end)

	require.NoError(t, rig.editor.SetTrim(2*time.Second, 2*time.Second))
	assert.Error(t, rig.editor.SetTrim(3*time.Second, time.Second))
	assert.Error(t, rig.editor.SetTrim(-time.Second, time.Second))
	assert.Error(t, rig.editor.SetTrim(0, 11*time.Second))

	start, end = rig.editor.Trim()
	assert.Equal(t, 2*time.Second, start)
	assert.Equal(t, 2*time.Second, end)
}

func TestEditorTrimAtStartRendersSingleFrame(t *testing.T) {
	rig := newEditorRig(t, screenRecording())
	require.NoError(t, rig.editor.SetTrim(0, 0))
	_, err := rig.editor.AddAnnotation(NewRectangle(color.RGBA{R: 255, A: 255}, Point{X: 1, Y: 1}, Point{X: 6, Y: 6}))
	require.NoError(t, err)

	rendered, err := rig.editor.Render(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{0}, rig.source.Seeks())
	assert.Equal(t, "frames=1", string(rendered.Blob.Data))
	assert.Zero(t, rendered.Duration)
}

func TestEditorEqualTrimPointsRenderSingleFrame(t *testing.T) {
	rig := newEditorRig(t, screenRecording())
	require.NoError(t, rig.editor.SetTrim(4*time.Second, 4*time.Second))

	rendered, err := rig.editor.Render(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, rig.trimmer.calls)
	assert.Equal(t, []time.Duration{4 * time.Second}, rig.source.Seeks())
	assert.Equal(t, "frames=1", string(rendered.Blob.Data))
	assert.Zero(t, rendered.Duration)
	require.Len(t, rig.replacer.replaced, 1)
}

func TestEditorAnnotationLifecycle(t *testing.T) {
	rig := newEditorRig(t, screenRecording())

	first, err := rig.editor.AddAnnotation(NewCircle(color.RGBA{A: 255}, Point{X: 5, Y: 5}, 3))
	require.NoError(t, err)
	rig.editor.SetTool(KindArrow, color.RGBA{R: 255, A: 255}, 6)
	rig.editor.PointerDown(Point{X: 1, Y: 1})
	rig.editor.PointerMove(Point{X: 9, Y: 9})
	arrow, err := rig.editor.PointerUp()
	require.NoError(t, err)
	assert.Equal(t, 6.0, arrow.StrokeWidth)

	annotations := rig.editor.Annotations()
	require.Len(t, annotations, 2)
	assert.Equal(t, first, annotations[0].ID, "creation order is kept")
	assert.Equal(t, arrow.ID, annotations[1].ID)

	visible, err := rig.editor.ToggleAnnotationVisibility(first)
	require.NoError(t, err)
	assert.False(t, visible)
	assert.False(t, rig.editor.Annotations()[0].Visible)

	require.NoError(t, rig.editor.RemoveAnnotation(arrow.ID))
	assert.Len(t, rig.editor.Annotations(), 1)
	assert.ErrorIs(t, rig.editor.RemoveAnnotation("missing"), ErrAnnotationNotFound)
	_, err = rig.editor.ToggleAnnotationVisibility("missing")
	assert.ErrorIs(t, err, ErrAnnotationNotFound)
}

func TestEditorFilters(t *testing.T) {
	rig := newEditorRig(t, screenRecording())

	require.NoError(t, rig.editor.SetFilter(FilterSaturation, 40))
	require.NoError(t, rig.editor.SetFilter(FilterInvert, 1))
	assert.Error(t, rig.editor.SetFilter(FilterBlur, 50))
	assert.Equal(t, 40.0, rig.editor.Filters().Saturation)

	rig.editor.ResetFilters()
	assert.True(t, rig.editor.Filters().IsIdentity())
}

func TestEditorRenderPublishesReplacement(t *testing.T) {
	rig := newEditorRig(t, screenRecording())

	require.NoError(t, rig.editor.SetTrim(0, 100*time.Millisecond))
	_, err := rig.editor.AddTextOverlay(NewTextOverlay("Hello", Point{X: 2, Y: 6}, 0, 0))
	require.NoError(t, err)
	require.Len(t, rig.editor.TextOverlays(), 1)

	rendered, err := rig.editor.Render(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, rig.replacer.replaced, 1)
	assert.Equal(t, "file:///tmp/edited", rendered.PlayableURL)
	assert.Equal(t, "frames=4", string(rendered.Blob.Data))
	assert.Equal(t, "rec-1", rendered.SourceID)
}

func TestEditorRenderAndExport(t *testing.T) {
	rig := newEditorRig(t, screenRecording())
	require.NoError(t, rig.editor.SetTrim(0, 100*time.Millisecond))
	require.NoError(t, rig.editor.SetFilter(FilterGrayscale, 1))

	deliverable, err := rig.editor.RenderAndExport(context.Background(), exporting.FormatMP4, nil)
	require.NoError(t, err)

	assert.True(t, deliverable.IsFallback(), "no transcoder is wired")
	assert.Contains(t, deliverable.Filename, "-edited.webm")
	assert.NotEmpty(t, deliverable.Notice)
}

func TestEditorRejectsGIFForAudio(t *testing.T) {
	audio := &models.Recording{
		ID:       "rec-audio",
		Mode:     models.CaptureModeAudio,
		Blob:     models.Blob{Data: []byte("opus"), MimeType: "audio/webm;codecs=opus"},
		Duration: 3 * time.Second,
	}
	rig := newEditorRig(t, audio)

	_, err := rig.editor.RenderAndExport(context.Background(), exporting.FormatGIF, nil)
	assert.True(t, exporting.IsFormatNotOfferedError(err))

	deliverable, err := rig.editor.RenderAndExport(context.Background(), exporting.FormatWebM, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("opus"), deliverable.Blob.Data, "audio is exported as-is")
	assert.Empty(t, rig.replacer.replaced)
}

func TestEditorCloseAbortsRender(t *testing.T) {
	rig := newEditorRig(t, screenRecording())
	rig.source.block = make(chan struct{})
	_, err := rig.editor.AddAnnotation(NewText(color.RGBA{A: 255}, Point{X: 1, Y: 6}, "x", 8))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := rig.editor.Render(context.Background(), nil)
		result <- err
	}()

	require.Eventually(t, func() bool { return len(rig.source.Seeks()) > 0 }, time.Second, time.Millisecond)
	require.NoError(t, rig.editor.Close())

	err = <-result
	require.Error(t, err)
	assert.True(t, IsAbortedError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rig.replacer.replaced, "a partial render is never delivered")

	assert.Empty(t, rig.editor.Annotations(), "unsaved annotations are discarded")
	_, err = rig.editor.AddAnnotation(NewCircle(color.RGBA{A: 255}, Point{}, 1))
	assert.ErrorIs(t, err, ErrEditorClosed)
	_, err = rig.editor.Render(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEditorClosed)
	assert.NoError(t, rig.editor.Close())
}

func TestEditorIgnoresPointerAfterClose(t *testing.T) {
	rig := newEditorRig(t, screenRecording())
	require.NoError(t, rig.editor.Close())

	rig.editor.PointerDown(Point{X: 1, Y: 1})
	rig.editor.PointerMove(Point{X: 8, Y: 8})
	assert.Nil(t, rig.editor.sketch.Preview())
	_, err := rig.editor.PointerUp()
	assert.ErrorIs(t, err, ErrEditorClosed)
}

func TestEditorPreviewIncludesInProgressAnnotation(t *testing.T) {
	rig := newEditorRig(t, screenRecording())

	plain, err := rig.editor.Preview(context.Background(), time.Second)
	require.NoError(t, err)

	rig.editor.SetTool(KindFreehand, color.RGBA{G: 255, A: 255}, 4)
	rig.editor.PointerDown(Point{X: 0, Y: 4})
	rig.editor.PointerMove(Point{X: 15, Y: 4})

	drawing, err := rig.editor.Preview(context.Background(), time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, plain.Pix, drawing.Pix)
	assert.Empty(t, rig.editor.Annotations(), "the stroke is not committed before pointer up")
}

func TestEncoderSinkFeedsEngine(t *testing.T) {
	encoder := encoding.NewFakeEncoder()
	engine := encoding.NewEngine(encoder, encoding.EngineSettings{Timeslice: time.Hour}, nil)
	sink, err := NewEncoderSinkFactory(engine, nil).OpenSink(models.CaptureModeScreen, 24)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.WriteFrame(context.Background(), devices.SolidFrame(33, 21, color.RGBA{R: uint8(i), A: 255})))
	}
	require.Eventually(t, func() bool {
		accepted, _ := encoder.LastSession().Counts()
		return accepted == 3
	}, time.Second, time.Millisecond)

	blob, err := sink.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chunk[3]", string(blob.Data))
	assert.Equal(t, "video/webm;codecs=vp9,opus", blob.MimeType)

	err = sink.WriteFrame(context.Background(), devices.SolidFrame(40, 40, color.RGBA{A: 255}))
	assert.Error(t, err)
}

func TestEncoderSinkRejectsAudio(t *testing.T) {
	engine := encoding.NewEngine(encoding.NewFakeEncoder(), encoding.EngineSettings{}, nil)
	_, err := NewEncoderSinkFactory(engine, nil).OpenSink(models.CaptureModeAudio, 30)
	assert.True(t, devices.IsUnsupportedModeError(err))
}
