package common

import (
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEncoderOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libvpx               libvpx VP8 (codec vp8)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 V....D libopenh264          OpenH264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D libopus              libopus Opus (codec opus)
 A....D aac                  AAC (Advanced Audio Coding)
 S..... ass                  ASS (Advanced SubStation Alpha) subtitle
`

func TestParseEncoderList(t *testing.T) {
	codecs := ParseEncoderList(sampleEncoderOutput)

	for _, expected := range []string{"libvpx", "libvpx-vp9", "libopenh264", "libopus", "aac"} {
		assert.True(t, codecs[expected], "expected %s to be parsed", expected)
	}
	assert.False(t, codecs["ass"], "subtitle encoders must be ignored")
	assert.False(t, codecs["Video"], "header lines must be ignored")
}

func TestGetAvailableCodecs_ReturnsCopy(t *testing.T) {
	provider := NewStaticCodecProvider("libvpx", "libopus")

	codecs1 := provider.GetAvailableCodecs()
	codecs2 := provider.GetAvailableCodecs()

	codecs1["modification_test"] = true

	_, exists := codecs2["modification_test"]
	assert.False(t, exists, "GetAvailableCodecs() doesn't return independent copies")
	assert.False(t, provider.IsCodecAvailable("modification_test"))
}

func TestGetFallbackCodec_WithUnavailableCodec(t *testing.T) {
	provider := NewStaticCodecProvider("libopenh264", "libvpx")

	codec, err := provider.GetFallbackCodec("libx264")
	require.NoError(t, err)
	assert.Equal(t, "libopenh264", codec)

	codec, err = provider.GetFallbackCodec("libvpx-vp9")
	require.NoError(t, err)
	assert.Equal(t, "libvpx", codec)
	assert.True(t, slices.Contains(CodecFallbackMap["libvpx-vp9"], codec))
}

func TestGetFallbackCodec_UndefinedCodec(t *testing.T) {
	provider := NewStaticCodecProvider()

	_, err := provider.GetFallbackCodec("nonexistent_codec_with_no_fallback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fallback is defined")
}

func TestGetFallbackCodec_ExhaustedChain(t *testing.T) {
	provider := NewStaticCodecProvider("aac")

	_, err := provider.GetFallbackCodec("libvpx-vp9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suitable codec")
}

func TestFFmpegCodecProvider_IsCodecAvailable(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	provider := NewFFmpegCodecProvider()
	assert.False(t, provider.IsCodecAvailable("definitely_nonexistent_codec_12345"))

	codecs := provider.GetAvailableCodecs()
	t.Logf("Found %d available codecs", len(codecs))
	for codecName, isAvailable := range codecs {
		assert.Equal(t, isAvailable, provider.IsCodecAvailable(codecName))
	}
}

func TestContainerHelpers(t *testing.T) {
	assert.Equal(t, ".webm", ContainerToFileExtension("video/webm;codecs=vp9,opus", false))
	assert.Equal(t, ".mp4", ContainerToFileExtension("mp4", false))
	assert.Equal(t, ".m4a", ContainerToFileExtension(".mp4", true))
	assert.Equal(t, ".gif", ContainerToFileExtension("gif", false))

	assert.Equal(t, "audio/webm", ContainerToMimeType("webm", true))
	assert.Equal(t, "video/mp4", ContainerToMimeType("mp4", false))
	assert.Equal(t, "image/gif", ContainerToMimeType("gif", false))
}

func TestFormatFFmpegTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00.000", FormatFFmpegTimestamp(0))
	assert.Equal(t, "00:01:05.250", FormatFFmpegTimestamp(65*time.Second+250*time.Millisecond))
	assert.Equal(t, "01:00:00.000", FormatFFmpegTimestamp(time.Hour))
	assert.Equal(t, "00:00:00.000", FormatFFmpegTimestamp(-time.Second))
}
