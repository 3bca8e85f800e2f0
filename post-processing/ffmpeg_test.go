package postprocessing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/config"
	"github.com/yeti47/cryospy/screencap/exporting"
	filemanagement "github.com/yeti47/cryospy/screencap/file-management"
	"github.com/yeti47/cryospy/screencap/models"
)

func videoBlob() models.Blob {
	return models.Blob{Data: []byte("webm"), MimeType: "video/webm;codecs=vp9,opus"}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("12.500000")
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, d)

	for _, input := range []string{"", "N/A", "abc", "0", "-1.5"} {
		_, err := parseDuration(input)
		assert.Error(t, err, input)
	}
}

func TestGetOutputPath(t *testing.T) {
	assert.Equal(t, "/tmp/postprocess-123-out.mp4", getOutputPath("/tmp/postprocess-123.webm", "mp4"))
	assert.Equal(t, "/tmp/clip-out.gif", getOutputPath("/tmp/clip", ".gif"))
}

func TestGIFFilter(t *testing.T) {
	assert.Equal(t, "fps=10,scale=640:-1:flags=lanczos", gifFilter(DefaultPostProcessingSettings))
}

func TestTrimCodecsFollowFallbackChain(t *testing.T) {
	codecs := common.NewStaticCodecProvider("libvpx", "libopus", "libopenh264", "libfdk_aac")

	webm, err := trimCodecs(codecs, DefaultPostProcessingSettings, "webm", false)
	require.NoError(t, err)
	assert.Equal(t, codecChoice{video: "libvpx", audio: "libopus"}, webm)

	mp4, err := trimCodecs(codecs, DefaultPostProcessingSettings, "mp4", false)
	require.NoError(t, err)
	assert.Equal(t, codecChoice{video: "libopenh264", audio: "libfdk_aac"}, mp4)

	audio, err := trimCodecs(common.NewStaticCodecProvider("libopus"), DefaultPostProcessingSettings, "webm", true)
	require.NoError(t, err)
	assert.Equal(t, codecChoice{audio: "libopus"}, audio, "audio-only trims never need a video encoder")

	_, err = trimCodecs(common.NewStaticCodecProvider("libopus"), DefaultPostProcessingSettings, "webm", false)
	assert.Error(t, err)
}

func TestSettingsProviderMapsConfig(t *testing.T) {
	provider := NewPostProcessingSettingsProvider(config.NewMutableSettingsProvider(config.Config{
		ExportVideoCodec: "h264_vaapi",
		VideoBitRate:     "4M",
		GIFWidth:         320,
	}))

	settings := provider.GetSettings()
	assert.Equal(t, "h264_vaapi", settings.VideoCodec)
	assert.Equal(t, "4M", settings.VideoBitRate)
	assert.Equal(t, 320, settings.GIFWidth)
	assert.Equal(t, DefaultPostProcessingSettings.GIFFrameRate, settings.GIFFrameRate)
	assert.Equal(t, DefaultPostProcessingSettings.WebMCodec, settings.WebMCodec)
}

func TestTranscoderWithoutEncodersIsUnavailable(t *testing.T) {
	files := filemanagement.NewLocalFileTracker(t.TempDir(), nil)
	transcoder := NewFfmpegTranscoder(files, common.NewStaticCodecProvider(), nil, nil)

	assert.False(t, transcoder.IsAvailable(context.Background()))

	_, err := transcoder.Transcode(context.Background(), videoBlob(), exporting.FormatMP4)
	require.Error(t, err)
	assert.True(t, exporting.IsTranscodeUnavailableError(err))
}

func TestTranscoderRejectsEmptyBlob(t *testing.T) {
	files := filemanagement.NewLocalFileTracker(t.TempDir(), nil)
	transcoder := NewFfmpegTranscoder(files, common.NewStaticCodecProvider(), nil, nil)

	_, err := transcoder.Transcode(context.Background(), models.Blob{}, exporting.FormatGIF)
	assert.ErrorIs(t, err, models.ErrEmptyRecording)
}

func TestTrimmerValidatesInput(t *testing.T) {
	files := filemanagement.NewLocalFileTracker(t.TempDir(), nil)
	trimmer := NewFfmpegTrimmer(files, common.NewStaticCodecProvider(), nil, nil)

	_, err := trimmer.Trim(context.Background(), models.Blob{}, 0, time.Second)
	assert.ErrorIs(t, err, models.ErrEmptyRecording)

	_, err = trimmer.Trim(context.Background(), videoBlob(), 2*time.Second, time.Second)
	assert.Error(t, err)

	_, err = trimmer.Trim(context.Background(), videoBlob(), 0, time.Second)
	assert.Error(t, err, "no encoder in the fallback chain is available")
}
