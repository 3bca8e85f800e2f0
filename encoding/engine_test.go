package encoding

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/models"
)

func fakeStream(t *testing.T, video, audio bool) *devices.Stream {
	t.Helper()
	constraints := devices.UserMediaConstraints{}
	if video {
		constraints.Video = &devices.VideoConstraints{Width: 32, Height: 18, FrameRate: 30}
	}
	if audio {
		constraints.Audio = &devices.AudioConstraints{SampleRate: 8000, Channels: 1}
	}
	backend := devices.NewFakeBackend()
	backend.FrameInterval = 2 * time.Millisecond
	stream, err := backend.GetUserMedia(context.Background(), constraints)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Stop() })
	return stream
}

func TestSelectMimeTypePrefersVP9(t *testing.T) {
	mimeType, err := SelectMimeType(models.CaptureModeScreen, func(string) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "video/webm;codecs=vp9,opus", mimeType)
}

func TestSelectMimeTypeFallsBackInOrder(t *testing.T) {
	supported := func(m string) bool { return m == "video/webm" || m == "video/mp4" }
	mimeType, err := SelectMimeType(models.CaptureModeCamera, supported)
	require.NoError(t, err)
	assert.Equal(t, "video/webm", mimeType)

	mimeType, err = SelectMimeType(models.CaptureModeAudio, func(m string) bool { return m == "audio/webm" })
	require.NoError(t, err)
	assert.Equal(t, "audio/webm", mimeType)
}

func TestSelectMimeTypeUnsupported(t *testing.T) {
	_, err := SelectMimeType(models.CaptureModeAudio, func(string) bool { return false })

	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, AudioMimeTypes, unsupported.Tried)
}

func TestParseMimeType(t *testing.T) {
	mediaType, container, codecs := ParseMimeType("video/webm;codecs=vp9,opus")
	assert.Equal(t, "video", mediaType)
	assert.Equal(t, "webm", container)
	assert.Equal(t, []string{"vp9", "opus"}, codecs)

	mediaType, container, codecs = ParseMimeType("audio/webm")
	assert.Equal(t, "audio", mediaType)
	assert.Equal(t, "webm", container)
	assert.Empty(t, codecs)
}

func TestFFmpegEncoderTypeSupport(t *testing.T) {
	vp8Only := NewFFmpegEncoder("", common.NewStaticCodecProvider("libvpx", "libopus"), nil)
	assert.False(t, vp8Only.IsTypeSupported("video/webm;codecs=vp9,opus"))
	assert.True(t, vp8Only.IsTypeSupported("video/webm;codecs=vp8,opus"))
	assert.True(t, vp8Only.IsTypeSupported("audio/webm;codecs=opus"))
	assert.False(t, vp8Only.IsTypeSupported("video/mp4"))

	mp4 := NewFFmpegEncoder("", common.NewStaticCodecProvider("libopenh264", "aac"), nil)
	assert.True(t, mp4.IsTypeSupported("video/mp4"), "h264 fallback chain should be used")
	assert.False(t, mp4.IsTypeSupported("video/webm"))

	none := NewFFmpegEncoder("", common.NewStaticCodecProvider(), nil)
	_, err := SelectMimeType(models.CaptureModeScreen, none.IsTypeSupported)
	assert.Error(t, err)
}

func TestEngineCollectsChunksInOrder(t *testing.T) {
	engine := NewEngine(NewFakeEncoder(), EngineSettings{Timeslice: 5 * time.Millisecond}, nil)

	var reported atomic.Int32
	handle, err := engine.BeginEncoding(context.Background(), fakeStream(t, true, true), models.CaptureModeCamera, models.DefaultRecordingSettings, Callbacks{
		OnChunk: func(tel Telemetry) { reported.Store(int32(tel.Chunks)) },
	})
	require.NoError(t, err)
	assert.Equal(t, "video/webm;codecs=vp9,opus", handle.MimeType())

	require.Eventually(t, func() bool { return handle.Telemetry().Chunks >= 2 }, 2*time.Second, 5*time.Millisecond)

	blob, err := handle.Finalize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "video/webm;codecs=vp9,opus", blob.MimeType)
	assert.True(t, strings.HasPrefix(string(blob.Data), "chunk["))
	assert.GreaterOrEqual(t, int(reported.Load()), 2)
	assert.NotEmpty(t, handle.Telemetry().HumanSize)
}

func TestEngineFinalizeWithoutChunks(t *testing.T) {
	session := &emptySession{chunks: make(chan []byte)}
	close(session.chunks)
	handle := &Handle{mimeType: "audio/webm", session: session, logger: common.NopLogger, done: make(chan struct{})}
	go handle.collect()

	_, err := handle.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrNoDataCaptured)
}

func TestEnginePauseDropsSamples(t *testing.T) {
	encoder := NewFakeEncoder()
	engine := NewEngine(encoder, EngineSettings{Timeslice: 5 * time.Millisecond}, nil)

	handle, err := engine.BeginEncoding(context.Background(), fakeStream(t, true, false), models.CaptureModeScreen, models.DefaultRecordingSettings, Callbacks{})
	require.NoError(t, err)

	session := encoder.LastSession()
	require.Eventually(t, func() bool { accepted, _ := session.Counts(); return accepted > 0 }, 2*time.Second, 2*time.Millisecond)

	handle.Pause()
	require.Eventually(t, func() bool { _, dropped := session.Counts(); return dropped > 0 }, 2*time.Second, 2*time.Millisecond)
	handle.Resume()

	_, err = handle.Finalize(context.Background())
	require.NoError(t, err)
}

func TestEngineReportsEncoderFailure(t *testing.T) {
	encoder := NewFakeEncoder()
	engine := NewEngine(encoder, EngineSettings{Timeslice: 5 * time.Millisecond}, nil)

	failures := make(chan error, 1)
	_, err := engine.BeginEncoding(context.Background(), fakeStream(t, true, false), models.CaptureModeScreen, models.DefaultRecordingSettings, Callbacks{
		OnError: func(err error) { failures <- err },
	})
	require.NoError(t, err)

	boom := errors.New("encoder crashed")
	encoder.LastSession().Fail(boom)

	select {
	case err := <-failures:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("encoder failure was not reported")
	}
}

func TestEngineRejectsInvalidSettings(t *testing.T) {
	engine := NewEngine(NewFakeEncoder(), EngineSettings{}, nil)

	settings := models.DefaultRecordingSettings
	settings.FrameRate = 25

	_, err := engine.BeginEncoding(context.Background(), fakeStream(t, true, false), models.CaptureModeScreen, settings, Callbacks{})
	assert.Error(t, err)
}

func TestEngineOpenFailure(t *testing.T) {
	encoder := NewFakeEncoder()
	encoder.OpenErr = errors.New("no ffmpeg")
	engine := NewEngine(encoder, EngineSettings{}, nil)

	_, err := engine.BeginEncoding(context.Background(), fakeStream(t, false, true), models.CaptureModeAudio, models.DefaultRecordingSettings, Callbacks{})
	assert.ErrorIs(t, err, encoder.OpenErr)
}

type emptySession struct {
	chunks chan []byte
}

func (s *emptySession) Chunks() <-chan []byte { return s.chunks }
func (s *emptySession) Pause()                {}
func (s *emptySession) Resume()               {}
func (s *emptySession) Stop()                 {}
func (s *emptySession) Err() error            { return nil }
