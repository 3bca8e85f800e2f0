package encoding

import (
	"fmt"
	"strings"

	"github.com/yeti47/cryospy/screencap/models"
)

// Preference order for recorder formats. The first entry the encoder supports wins.
var (
	VideoMimeTypes = []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/webm",
		"video/mp4",
	}
	AudioMimeTypes = []string{
		"audio/webm;codecs=opus",
		"audio/webm",
	}
)

// UnsupportedFormatError is returned when none of the preferred formats can be produced
type UnsupportedFormatError struct {
	Mode  models.CaptureMode
	Tried []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("no supported recording format for %s capture (tried %s)", e.Mode, strings.Join(e.Tried, ", "))
}

// PreferredMimeTypes returns the candidate formats for mode in preference order
func PreferredMimeTypes(mode models.CaptureMode) []string {
	if mode.IsVideo() {
		return VideoMimeTypes
	}
	return AudioMimeTypes
}

// SelectMimeType picks the first preferred format accepted by supported
func SelectMimeType(mode models.CaptureMode, supported func(mimeType string) bool) (string, error) {
	candidates := PreferredMimeTypes(mode)
	for _, mimeType := range candidates {
		if supported(mimeType) {
			return mimeType, nil
		}
	}
	return "", &UnsupportedFormatError{Mode: mode, Tried: candidates}
}

// ParseMimeType splits "video/webm;codecs=vp9,opus" into media type "video", container "webm"
// and codecs ["vp9", "opus"].
func ParseMimeType(mimeType string) (mediaType, container string, codecs []string) {
	base, params, _ := strings.Cut(mimeType, ";")
	mediaType, container, _ = strings.Cut(strings.TrimSpace(strings.ToLower(base)), "/")

	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.ToLower(key) != "codecs" {
			continue
		}
		for _, codec := range strings.Split(strings.Trim(value, `"`), ",") {
			if codec = strings.ToLower(strings.TrimSpace(codec)); codec != "" {
				codecs = append(codecs, codec)
			}
		}
	}
	return mediaType, container, codecs
}
