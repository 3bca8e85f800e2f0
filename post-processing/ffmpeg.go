package postprocessing

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/config"
	"github.com/yeti47/cryospy/screencap/exporting"
	filemanagement "github.com/yeti47/cryospy/screencap/file-management"
	"github.com/yeti47/cryospy/screencap/models"
)

// ffmpegRunner owns the temp files and the goffmpeg transcoder lifecycle shared by the trimmer and the transcoder
type ffmpegRunner struct {
	files            filemanagement.FileTracker
	settingsProvider config.SettingsProvider[PostProcessingSettings]
	logger           common.Logger

	codecsOnce    sync.Once
	codecProvider common.CodecProvider
}

func (r *ffmpegRunner) codecs() common.CodecProvider {
	r.codecsOnce.Do(func() {
		if r.codecProvider == nil {
			r.codecProvider = common.NewFFmpegCodecProvider()
		}
	})
	return r.codecProvider
}

func (r *ffmpegRunner) settings() PostProcessingSettings {
	if r.settingsProvider == nil {
		return DefaultPostProcessingSettings
	}
	return r.settingsProvider.GetSettings()
}

// process materializes blob, runs ffmpeg on it and reads the output back.
// Temp files are removed once ffmpeg has exited, even when ctx is cancelled first.
func (r *ffmpegRunner) process(ctx context.Context, blob models.Blob, format string, configure func(trans *transcoder.Transcoder) error) ([]byte, error) {
	audioOnly := isAudio(blob)
	inputExt := common.ContainerToFileExtension(blob.Container(), audioOnly)
	input, err := r.files.Materialize(blob, "postprocess-*"+inputExt)
	if err != nil {
		return nil, err
	}
	output := getOutputPath(input, format)

	cleanup := func() {
		r.files.DeleteFile(input)
		r.files.DeleteFile(output)
	}

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(input, output); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to initialize transcoder: %w", err)
	}
	if duration, err := parseDuration(trans.MediaFile().Metadata().Format.Duration); err == nil {
		r.logger.Debug("Probed ffmpeg input", "path", input, "duration", duration)
	}
	if err := configure(trans); err != nil {
		cleanup()
		return nil, err
	}

	done := trans.Run(false)
	select {
	case err = <-done:
	case <-ctx.Done():
		go func() {
			<-done
			cleanup()
		}()
		return nil, ctx.Err()
	}
	defer cleanup()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read ffmpeg output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty %s file", format)
	}
	return data, nil
}

// FfmpegTrimmer cuts a time range out of a recording without touching its frames
type FfmpegTrimmer struct {
	runner *ffmpegRunner
}

func NewFfmpegTrimmer(files filemanagement.FileTracker, codecProvider common.CodecProvider, settingsProvider config.SettingsProvider[PostProcessingSettings], logger common.Logger) *FfmpegTrimmer {
	return &FfmpegTrimmer{runner: &ffmpegRunner{
		files:            files,
		codecProvider:    codecProvider,
		settingsProvider: settingsProvider,
		logger:           common.LoggerOrNop(logger),
	}}
}

// Trim re-encodes [start, end] of blob into the blob's own container.
// Stream copy is avoided since webm cuts land on keyframes only.
func (t *FfmpegTrimmer) Trim(ctx context.Context, blob models.Blob, start, end time.Duration) (models.Blob, error) {
	if blob.IsEmpty() {
		return models.Blob{}, models.ErrEmptyRecording
	}
	if start < 0 || end < start {
		return models.Blob{}, fmt.Errorf("invalid trim range %v-%v", start, end)
	}

	settings := t.runner.settings()
	audioOnly := isAudio(blob)
	format := "webm"
	if blob.Container() == "mp4" {
		format = "mp4"
	}

	plan, err := trimCodecs(t.runner.codecs(), settings, format, audioOnly)
	if err != nil {
		return models.Blob{}, err
	}

	started := time.Now()
	data, err := t.runner.process(ctx, blob, format, func(trans *transcoder.Transcoder) error {
		media := trans.MediaFile()
		media.SetSeekTime(common.FormatFFmpegTimestamp(start))
		media.SetDuration(common.FormatFFmpegTimestamp(end - start))
		media.SetOutputFormat(format)
		media.SetAudioCodec(plan.audio)
		if !audioOnly {
			media.SetVideoCodec(plan.video)
			media.SetVideoBitRate(settings.VideoBitRate)
		}
		return nil
	})
	if err != nil {
		return models.Blob{}, fmt.Errorf("failed to trim recording: %w", err)
	}

	t.runner.logger.Info("Trimmed recording", "start", start, "end", end, "format", format,
		"videoCodec", plan.video, "audioCodec", plan.audio, "size", len(data), "took", time.Since(started))

	return models.Blob{Data: data, MimeType: blob.MimeType}, nil
}

type codecChoice struct {
	video string
	audio string
}

func trimCodecs(codecs common.CodecProvider, settings PostProcessingSettings, format string, audioOnly bool) (codecChoice, error) {
	videoCodec, audioCodec := settings.WebMCodec, settings.WebMAudio
	if format == "mp4" {
		videoCodec, audioCodec = settings.VideoCodec, settings.AudioCodec
	}

	var choice codecChoice
	var err error
	if choice.audio, err = codecs.GetFallbackCodec(audioCodec); err != nil {
		return codecChoice{}, fmt.Errorf("no %s audio encoder: %w", format, err)
	}
	if audioOnly {
		return choice, nil
	}
	if choice.video, err = codecs.GetFallbackCodec(videoCodec); err != nil {
		return codecChoice{}, fmt.Errorf("no %s video encoder: %w", format, err)
	}
	return choice, nil
}

// FfmpegTranscoder converts recordings into the container an export asks for
type FfmpegTranscoder struct {
	runner *ffmpegRunner

	availableOnce sync.Once
	available     bool
}

func NewFfmpegTranscoder(files filemanagement.FileTracker, codecProvider common.CodecProvider, settingsProvider config.SettingsProvider[PostProcessingSettings], logger common.Logger) *FfmpegTranscoder {
	return &FfmpegTranscoder{runner: &ffmpegRunner{
		files:            files,
		codecProvider:    codecProvider,
		settingsProvider: settingsProvider,
		logger:           common.LoggerOrNop(logger),
	}}
}

// IsAvailable reports whether ffmpeg can be run at all. The answer is cached for the process lifetime.
func (t *FfmpegTranscoder) IsAvailable(ctx context.Context) bool {
	t.availableOnce.Do(func() {
		if _, err := exec.LookPath("ffmpeg"); err != nil {
			t.runner.logger.Warn("ffmpeg not found on PATH, exports fall back to the native format", "error", err)
			return
		}
		t.available = len(t.runner.codecs().GetAvailableCodecs()) > 0
	})
	return t.available
}

// Transcode converts blob into format. GIF output drops the audio track.
func (t *FfmpegTranscoder) Transcode(ctx context.Context, blob models.Blob, format exporting.Format) (models.Blob, error) {
	if blob.IsEmpty() {
		return models.Blob{}, models.ErrEmptyRecording
	}
	if !t.IsAvailable(ctx) {
		return models.Blob{}, exporting.NewTranscodeUnavailableError(format, fmt.Errorf("ffmpeg is not available"))
	}

	settings := t.runner.settings()
	audioOnly := isAudio(blob)

	var configure func(trans *transcoder.Transcoder) error
	switch format {
	case exporting.FormatMP4:
		plan, err := trimCodecs(t.runner.codecs(), settings, "mp4", audioOnly)
		if err != nil {
			return models.Blob{}, exporting.NewTranscodeUnavailableError(format, err)
		}
		configure = func(trans *transcoder.Transcoder) error {
			media := trans.MediaFile()
			media.SetOutputFormat("mp4")
			media.SetAudioCodec(plan.audio)
			if !audioOnly {
				media.SetVideoCodec(plan.video)
				media.SetVideoBitRate(settings.VideoBitRate)
				// browsers only decode 4:2:0 H.264
				media.SetVideoFilter("format=yuv420p")
			}
			return nil
		}

	case exporting.FormatGIF:
		if audioOnly {
			return models.Blob{}, exporting.NewFormatNotOfferedError(models.CaptureModeAudio, format)
		}
		configure = func(trans *transcoder.Transcoder) error {
			media := trans.MediaFile()
			media.SetOutputFormat("gif")
			media.SetVideoCodec("gif")
			media.SetSkipAudio(true)
			media.SetVideoFilter(gifFilter(settings))
			return nil
		}

	case exporting.FormatWebM:
		plan, err := trimCodecs(t.runner.codecs(), settings, "webm", audioOnly)
		if err != nil {
			return models.Blob{}, exporting.NewTranscodeUnavailableError(format, err)
		}
		configure = func(trans *transcoder.Transcoder) error {
			media := trans.MediaFile()
			media.SetOutputFormat("webm")
			media.SetAudioCodec(plan.audio)
			if !audioOnly {
				media.SetVideoCodec(plan.video)
				media.SetVideoBitRate(settings.VideoBitRate)
			}
			return nil
		}

	default:
		return models.Blob{}, fmt.Errorf("unsupported export format %q", format)
	}

	started := time.Now()
	data, err := t.runner.process(ctx, blob, string(format), configure)
	if err != nil {
		if ctx.Err() != nil {
			return models.Blob{}, err
		}
		return models.Blob{}, exporting.NewTranscodeUnavailableError(format, err)
	}

	mimeType := common.ContainerToMimeType(string(format), audioOnly)
	t.runner.logger.Info("Transcoded recording", "from", blob.MimeType, "to", mimeType,
		"inputSize", len(blob.Data), "outputSize", len(data), "took", time.Since(started))

	return models.Blob{Data: data, MimeType: mimeType}, nil
}

func gifFilter(settings PostProcessingSettings) string {
	return fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", settings.GIFFrameRate, settings.GIFWidth)
}

func isAudio(blob models.Blob) bool {
	return strings.HasPrefix(strings.ToLower(blob.MimeType), "audio/")
}

func getOutputPath(inputPath, format string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "-out." + strings.TrimLeft(format, ".")
}

func parseDuration(durationStr string) (time.Duration, error) {
	if durationStr == "" || durationStr == "N/A" {
		return 0, fmt.Errorf("empty duration in media metadata")
	}

	durationSeconds, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", durationStr, err)
	}
	if durationSeconds <= 0 {
		return 0, fmt.Errorf("invalid or zero duration: %f seconds", durationSeconds)
	}

	return time.Duration(durationSeconds * float64(time.Second)), nil
}
