package exporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/metrics"
	"github.com/yeti47/cryospy/screencap/models"
)

type fakeTranscoder struct {
	available bool
	err       error
	calls     []Format
}

func (f *fakeTranscoder) IsAvailable(ctx context.Context) bool {
	return f.available
}

func (f *fakeTranscoder) Transcode(ctx context.Context, blob models.Blob, format Format) (models.Blob, error) {
	f.calls = append(f.calls, format)
	if f.err != nil {
		return models.Blob{}, f.err
	}
	return models.Blob{Data: append([]byte("converted:"), blob.Data...), MimeType: "video/" + string(format)}, nil
}

var exportTime = time.Date(2024, 5, 6, 7, 8, 9, 10_000_000, time.UTC)

func newTestCoordinator(transcoder Transcoder, m *metrics.Metrics) *Coordinator {
	return NewCoordinator(transcoder, CoordinatorSettings{
		Metrics: m,
		Clock:   func() time.Time { return exportTime },
	}, nil)
}

func videoRecording() *models.Recording {
	return &models.Recording{
		ID:   "rec-1",
		Mode: models.CaptureModeScreen,
		Blob: models.Blob{Data: []byte("webm-data"), MimeType: "video/webm;codecs=vp9,opus"},
	}
}

func TestAvailableFormats(t *testing.T) {
	assert.Equal(t, []Format{FormatWebM, FormatMP4, FormatGIF}, AvailableFormats(models.CaptureModeScreen))
	assert.Equal(t, []Format{FormatWebM, FormatMP4, FormatGIF}, AvailableFormats(models.CaptureModeCamera))
	assert.NotContains(t, AvailableFormats(models.CaptureModeAudio), FormatGIF)
}

func TestGIFExportRejectedForAudio(t *testing.T) {
	transcoder := &fakeTranscoder{available: true}
	coordinator := newTestCoordinator(transcoder, nil)

	recording := &models.Recording{
		ID:   "rec-audio",
		Mode: models.CaptureModeAudio,
		Blob: models.Blob{Data: []byte("opus"), MimeType: "audio/webm;codecs=opus"},
	}

	deliverable, err := coordinator.Export(context.Background(), recording, FormatGIF)
	assert.Nil(t, deliverable)
	require.Error(t, err)
	assert.True(t, IsFormatNotOfferedError(err))
	assert.Empty(t, transcoder.calls, "the transcoder must not be asked")
}

func TestNativeExportIsDirect(t *testing.T) {
	transcoder := &fakeTranscoder{available: true}
	coordinator := newTestCoordinator(transcoder, nil)

	deliverable, err := coordinator.Export(context.Background(), videoRecording(), FormatWebM)
	require.NoError(t, err)

	assert.Equal(t, []byte("webm-data"), deliverable.Blob.Data)
	assert.Equal(t, "screen-recording-2024-05-06_07-08-09.010.webm", deliverable.Filename)
	assert.False(t, deliverable.IsFallback())
	assert.Empty(t, deliverable.Notice)
	assert.Empty(t, transcoder.calls)
}

func TestTranscodedExport(t *testing.T) {
	transcoder := &fakeTranscoder{available: true}
	coordinator := newTestCoordinator(transcoder, nil)

	deliverable, err := coordinator.Export(context.Background(), videoRecording(), FormatMP4)
	require.NoError(t, err)

	assert.Equal(t, []Format{FormatMP4}, transcoder.calls)
	assert.Equal(t, FormatMP4, deliverable.Format)
	assert.Equal(t, "video/mp4", deliverable.Blob.MimeType)
	assert.Equal(t, "screen-recording-2024-05-06_07-08-09.010.mp4", deliverable.Filename)
	assert.Empty(t, deliverable.Notice)
}

func TestUnavailableTranscoderFallsBackWithNotice(t *testing.T) {
	m := metrics.New()
	coordinator := newTestCoordinator(&fakeTranscoder{available: false}, m)

	deliverable, err := coordinator.Export(context.Background(), videoRecording(), FormatGIF)
	require.NoError(t, err)

	assert.True(t, deliverable.IsFallback())
	assert.Equal(t, FormatGIF, deliverable.Requested)
	assert.Equal(t, FormatWebM, deliverable.Format)
	assert.Equal(t, "screen-recording-2024-05-06_07-08-09.010.webm", deliverable.Filename, "the extension must match the real container")
	assert.Equal(t, []byte("webm-data"), deliverable.Blob.Data)
	assert.Contains(t, deliverable.Notice, "GIF export is not available")
	assert.Contains(t, deliverable.Notice, "WEBM")

	count, err := testutil.GatherAndCount(m.Registry(), "screencap_export_fallbacks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFailedTranscodeFallsBack(t *testing.T) {
	transcoder := &fakeTranscoder{available: true, err: errors.New("encoder missing")}
	coordinator := newTestCoordinator(transcoder, nil)

	deliverable, err := coordinator.Export(context.Background(), videoRecording(), FormatMP4)
	require.NoError(t, err)

	assert.True(t, deliverable.IsFallback())
	assert.Contains(t, deliverable.Notice, "encoder missing")
}

func TestNilTranscoderFallsBack(t *testing.T) {
	coordinator := newTestCoordinator(nil, nil)

	deliverable, err := coordinator.Export(context.Background(), videoRecording(), FormatMP4)
	require.NoError(t, err)
	assert.Equal(t, FormatWebM, deliverable.Format)
}

func TestCancelledTranscodeIsNotDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transcoder := &fakeTranscoder{available: true, err: context.Canceled}
	coordinator := newTestCoordinator(transcoder, nil)

	deliverable, err := coordinator.Export(ctx, videoRecording(), FormatMP4)
	assert.Nil(t, deliverable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyRecordingRejected(t *testing.T) {
	coordinator := newTestCoordinator(nil, nil)

	_, err := coordinator.Export(context.Background(), &models.Recording{Mode: models.CaptureModeScreen}, FormatWebM)
	assert.ErrorIs(t, err, models.ErrEmptyRecording)
}

func TestFilename(t *testing.T) {
	edited := videoRecording()
	edited.SourceID = "rec-0"
	assert.Equal(t, "screen-recording-2024-05-06_07-08-09.010-edited.webm", Filename(edited, FormatWebM, exportTime))

	audio := &models.Recording{Mode: models.CaptureModeAudio}
	assert.Equal(t, "audio-recording-2024-05-06_07-08-09.010.m4a", Filename(audio, FormatMP4, exportTime))

	camera := &models.Recording{Mode: models.CaptureModeCamera}
	assert.Equal(t, "camera-recording-2024-05-06_07-08-09.010.gif", Filename(camera, FormatGIF, exportTime))
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat(".MP4")
	require.NoError(t, err)
	assert.Equal(t, FormatMP4, format)

	_, err = ParseFormat("avi")
	assert.Error(t, err)
}
