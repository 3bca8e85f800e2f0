package encoding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/devices"
)

// codecPlan is the ffmpeg realisation of a recorder mime type
type codecPlan struct {
	format     string // ffmpeg muxer
	videoCodec string
	audioCodec string
}

// FFmpegEncoder feeds raw frames and PCM into an ffmpeg child process and streams the muxed output
type FFmpegEncoder struct {
	ffmpegPath    string
	codecProvider common.CodecProvider
	logger        common.Logger
}

func NewFFmpegEncoder(ffmpegPath string, codecProvider common.CodecProvider, logger common.Logger) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEncoder{
		ffmpegPath:    ffmpegPath,
		codecProvider: codecProvider,
		logger:        common.LoggerOrNop(logger),
	}
}

// firstAvailable returns the first candidate ffmpeg can encode with. Unless exact is set,
// each candidate's fallback chain is tried as well.
func (e *FFmpegEncoder) firstAvailable(exact bool, candidates ...string) string {
	for _, codec := range candidates {
		if e.codecProvider.IsCodecAvailable(codec) {
			return codec
		}
		if exact {
			continue
		}
		if fallback, err := e.codecProvider.GetFallbackCodec(codec); err == nil {
			return fallback
		}
	}
	return ""
}

// plan resolves mimeType to concrete encoders, or false when it cannot be produced
func (e *FFmpegEncoder) plan(mimeType string) (codecPlan, bool) {
	mediaType, container, codecs := ParseMimeType(mimeType)
	wantVideo := mediaType == "video"
	if !wantVideo && mediaType != "audio" {
		return codecPlan{}, false
	}

	var videoCandidates, audioCandidates []string
	var plan codecPlan

	switch container {
	case "webm":
		plan.format = "webm"
		videoCandidates = []string{"libvpx-vp9", "libvpx"}
		audioCandidates = []string{"libopus", "libvorbis"}
		for _, codec := range codecs {
			switch codec {
			case "vp9":
				videoCandidates = []string{"libvpx-vp9"}
			case "vp8":
				videoCandidates = []string{"libvpx"}
			case "opus":
				audioCandidates = []string{"libopus"}
			case "vorbis":
				audioCandidates = []string{"libvorbis"}
			default:
				return codecPlan{}, false
			}
		}
	case "mp4":
		plan.format = "mp4"
		videoCandidates = []string{"libx264"}
		audioCandidates = []string{"aac"}
		if len(codecs) > 0 {
			return codecPlan{}, false
		}
	default:
		return codecPlan{}, false
	}

	// Codecs named in the mime type must be honoured as-is
	exact := len(codecs) > 0
	if wantVideo {
		if plan.videoCodec = e.firstAvailable(exact, videoCandidates...); plan.videoCodec == "" {
			return codecPlan{}, false
		}
	}
	if plan.audioCodec = e.firstAvailable(exact, audioCandidates...); plan.audioCodec == "" {
		return codecPlan{}, false
	}
	return plan, true
}

func (e *FFmpegEncoder) IsTypeSupported(mimeType string) bool {
	_, ok := e.plan(mimeType)
	return ok
}

func (e *FFmpegEncoder) Open(ctx context.Context, stream *devices.Stream, options EncoderOptions) (EncoderSession, error) {
	plan, ok := e.plan(options.MimeType)
	if !ok {
		return nil, fmt.Errorf("unsupported mime type %q", options.MimeType)
	}

	var videoTrack, audioTrack *devices.Track
	if plan.videoCodec != "" {
		if tracks := stream.VideoTracks(); len(tracks) > 0 {
			videoTrack = tracks[0]
		}
	}
	if tracks := stream.AudioTracks(); len(tracks) > 0 {
		audioTrack = tracks[0]
	}
	if videoTrack == nil && audioTrack == nil {
		return nil, errors.New("stream has no usable tracks")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	args := []string{"-hide_banner", "-loglevel", "error"}
	var extraFiles []*os.File
	var videoIn, audioIn io.WriteCloser
	var closers []io.Closer

	fail := func(err error) (EncoderSession, error) {
		cancel()
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	inputs := 0
	if videoTrack != nil {
		settings := videoTrack.Settings()
		args = append(args,
			"-f", "rawvideo", "-pix_fmt", "rgba",
			"-s", fmt.Sprintf("%dx%d", settings.Width, settings.Height),
			"-r", strconv.Itoa(max(settings.FrameRate, 1)),
			"-i", "pipe:0")
		inputs++
	}
	if audioTrack != nil {
		settings := audioTrack.Settings()
		source := "pipe:0"
		if videoTrack != nil {
			r, w, err := os.Pipe()
			if err != nil {
				return fail(fmt.Errorf("failed to create audio pipe: %w", err))
			}
			closers = append(closers, r, w)
			extraFiles = append(extraFiles, r)
			audioIn = w
			source = "pipe:3"
		}
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(settings.SampleRate),
			"-ac", strconv.Itoa(max(settings.Channels, 1)),
			"-i", source)
		inputs++
	}

	if videoTrack != nil {
		args = append(args, "-map", "0:v", "-c:v", plan.videoCodec, "-b:v", options.VideoBitRate)
		switch plan.videoCodec {
		case "libvpx", "libvpx-vp9":
			args = append(args, "-deadline", "realtime", "-cpu-used", "8")
		case "libx264":
			args = append(args, "-preset", "ultrafast", "-pix_fmt", "yuv420p")
		default:
			args = append(args, "-pix_fmt", "yuv420p")
		}
	}
	if audioTrack != nil {
		args = append(args, "-map", fmt.Sprintf("%d:a", inputs-1), "-c:a", plan.audioCodec, "-b:a", options.AudioBitRate)
	}
	if plan.format == "mp4" {
		// A seekable output is not available on a pipe
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	args = append(args, "-f", plan.format, "pipe:1")

	cmd := exec.CommandContext(procCtx, e.ffmpegPath, args...)
	cmd.ExtraFiles = extraFiles
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("failed to open ffmpeg stdin: %w", err))
	}
	if videoTrack != nil {
		videoIn = stdin
	} else {
		audioIn = stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("failed to open ffmpeg stdout: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("failed to start ffmpeg: %w", err))
	}
	// The child holds its own copy of the read end now
	for _, f := range extraFiles {
		f.Close()
	}

	e.logger.Debug("Started ffmpeg encoder", "args", args)

	s := &ffmpegSession{
		cmd:       cmd,
		cancel:    cancel,
		stderr:    stderr,
		timeslice: options.Timeslice,
		chunks:    make(chan []byte, 64),
		stop:      make(chan struct{}),
		logger:    e.logger,
	}
	if s.timeslice <= 0 {
		s.timeslice = time.Second
	}

	if videoTrack != nil {
		go s.pump(videoTrack, videoIn, func(sample devices.Sample) []byte {
			if sample.Frame == nil {
				return nil
			}
			settings := videoTrack.Settings()
			b := sample.Frame.Bounds()
			if b.Dx() != settings.Width || b.Dy() != settings.Height {
				return nil
			}
			return sample.Frame.Pix[:4*settings.Width*settings.Height]
		})
	}
	if audioTrack != nil {
		go s.pump(audioTrack, audioIn, func(sample devices.Sample) []byte {
			return pcmBytes(sample.PCM)
		})
	}
	go s.collect(stdout)

	return s, nil
}

func pcmBytes(pcm []int16) []byte {
	if len(pcm) == 0 {
		return nil
	}
	out := make([]byte, 2*len(pcm))
	for i, v := range pcm {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

type ffmpegSession struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stderr    *bytes.Buffer
	timeslice time.Duration
	chunks    chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	logger    common.Logger

	mu     sync.Mutex
	paused bool
	err    error
}

func (s *ffmpegSession) Chunks() <-chan []byte {
	return s.chunks
}

func (s *ffmpegSession) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *ffmpegSession) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *ffmpegSession) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *ffmpegSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *ffmpegSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// pump copies samples of one track into one ffmpeg input. Samples arriving while paused are dropped.
func (s *ffmpegSession) pump(track *devices.Track, w io.WriteCloser, encode func(devices.Sample) []byte) {
	defer w.Close()

	write := func(sample devices.Sample) bool {
		data := encode(sample)
		if len(data) == 0 {
			return true
		}
		if _, err := w.Write(data); err != nil {
			s.logger.Warn("Failed to write to encoder", "track", track.Label(), "error", err)
			return false
		}
		return true
	}

	samples := track.Samples()
	for {
		select {
		case sample, ok := <-samples:
			if !ok {
				return
			}
			if s.isPaused() {
				continue
			}
			if !write(sample) {
				return
			}
		case <-s.stop:
			// flush what the track already buffered, then end the input
			for {
				select {
				case sample, ok := <-samples:
					if !ok || !write(sample) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// collect slices ffmpeg's output into one chunk per timeslice
func (s *ffmpegSession) collect(stdout io.ReadCloser) {
	reads := make(chan []byte, 16)
	go func() {
		defer close(reads)
		buf := make([]byte, 64*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				reads <- bytes.Clone(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.timeslice)
	defer ticker.Stop()

	var pending []byte
	flush := func() {
		if len(pending) > 0 {
			s.chunks <- pending
			pending = nil
		}
	}

	for {
		select {
		case data, ok := <-reads:
			if !ok {
				flush()
				s.finish()
				return
			}
			pending = append(pending, data...)
		case <-ticker.C:
			if !s.isPaused() {
				flush()
			}
		}
	}
}

// finish reaps the process. Wait closes stdin, so pumps still running fail their next write and exit.
func (s *ffmpegSession) finish() {
	err := s.cmd.Wait()
	s.cancel()

	s.mu.Lock()
	if err != nil {
		s.err = fmt.Errorf("ffmpeg encoder failed: %w: %s", err, bytes.TrimSpace(s.stderr.Bytes()))
	}
	s.mu.Unlock()

	close(s.chunks)
}
