package common

import (
	"fmt"
	"log"
	"maps"
	"os/exec"
	"regexp"
	"strings"
)

// CodecFallbackMap defines fallback chains for ffmpeg encoders
var CodecFallbackMap = map[string][]string{
	// H.264 codecs in preference order
	"libx264":      {"libx264", "libopenh264", "h264_vaapi", "h264_qsv", "h264_v4l2m2m"},
	"libopenh264":  {"libopenh264", "libx264", "h264_vaapi", "h264_qsv", "h264_v4l2m2m"},
	"h264_vaapi":   {"h264_vaapi", "libx264", "libopenh264", "h264_qsv", "h264_v4l2m2m"},
	"h264_qsv":     {"h264_qsv", "libx264", "libopenh264", "h264_vaapi", "h264_v4l2m2m"},
	"h264_v4l2m2m": {"h264_v4l2m2m", "libx264", "libopenh264", "h264_vaapi", "h264_qsv"},

	// WebM video: VP9 falls back to VP8
	"libvpx-vp9": {"libvpx-vp9", "libvpx"},
	"libvpx":     {"libvpx"},

	// Audio
	"libopus":   {"libopus", "opus"},
	"aac":       {"aac", "libfdk_aac"},
	"libvorbis": {"libvorbis", "vorbis"},
}

// CodecProvider interface for managing codec availability and fallbacks
type CodecProvider interface {
	IsCodecAvailable(codec string) bool
	GetFallbackCodec(requestedCodec string) (string, error)
	GetAvailableCodecs() map[string]bool
}

// FFmpegCodecProvider implements CodecProvider using FFmpeg
type FFmpegCodecProvider struct {
	// Cache to avoid repeated FFmpeg calls
	availableCodecs map[string]bool
}

// NewFFmpegCodecProvider creates a new FFmpeg-based codec provider
func NewFFmpegCodecProvider() *FFmpegCodecProvider {
	provider := &FFmpegCodecProvider{
		availableCodecs: make(map[string]bool),
	}

	provider.loadAvailableCodecs()

	return provider
}

// NewStaticCodecProvider creates a provider with a fixed set of available encoders
func NewStaticCodecProvider(codecs ...string) *FFmpegCodecProvider {
	provider := &FFmpegCodecProvider{
		availableCodecs: make(map[string]bool, len(codecs)),
	}
	for _, codec := range codecs {
		provider.availableCodecs[codec] = true
	}
	return provider
}

// IsCodecAvailable checks if a codec is available by querying FFmpeg
func (c *FFmpegCodecProvider) IsCodecAvailable(codec string) bool {
	available, exists := c.availableCodecs[codec]
	return exists && available
}

// GetAvailableCodecs returns a copy of all available codecs
func (c *FFmpegCodecProvider) GetAvailableCodecs() map[string]bool {
	result := make(map[string]bool)
	maps.Copy(result, c.availableCodecs)
	return result
}

// loadAvailableCodecs queries FFmpeg for all available encoders and caches the result
func (c *FFmpegCodecProvider) loadAvailableCodecs() {
	cmd := exec.Command("ffmpeg", "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		log.Printf("Warning: Failed to query FFmpeg encoders: %v", err)
		return
	}

	c.availableCodecs = ParseEncoderList(string(output))
	log.Printf("Loaded %d available codecs from FFmpeg", len(c.availableCodecs))
}

// Pattern matches lines like: " V....D libvpx-vp9           libvpx VP9 (codec vp9)"
// Captures: flags (V..... or A.....) and codec name
var codecPattern = regexp.MustCompile(`^ ([VA][.SFXBD]{5})\s+([a-zA-Z0-9_-]+)\s+`)

// ParseEncoderList parses the output of "ffmpeg -encoders" into a set of encoder names
func ParseEncoderList(output string) map[string]bool {
	codecs := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		// Skip header lines that contain " = "
		if strings.Contains(line, " = ") {
			continue
		}

		matches := codecPattern.FindStringSubmatch(line)
		if len(matches) >= 3 {
			flags := matches[1]
			codecName := matches[2]

			if len(codecName) > 0 && (strings.HasPrefix(flags, "V") || strings.HasPrefix(flags, "A")) {
				codecs[codecName] = true
			}
		}
	}

	return codecs
}

// GetFallbackCodec finds the first available codec from the fallback chain
func (c *FFmpegCodecProvider) GetFallbackCodec(requestedCodec string) (string, error) {
	if c.IsCodecAvailable(requestedCodec) {
		return requestedCodec, nil
	}

	fallbackChain, exists := CodecFallbackMap[requestedCodec]
	if !exists {
		return "", fmt.Errorf("codec '%s' is not available and no fallback is defined", requestedCodec)
	}

	for _, codec := range fallbackChain {
		if c.IsCodecAvailable(codec) {
			return codec, nil
		}
	}

	return "", fmt.Errorf("no suitable codec available from fallback chain: %v", fallbackChain)
}
