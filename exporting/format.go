package exporting

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yeti47/cryospy/screencap/models"
)

type Format string

const (
	FormatWebM Format = "webm"
	FormatMP4  Format = "mp4"
	FormatGIF  Format = "gif"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case FormatWebM, FormatMP4, FormatGIF:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format: %s", s)
	}
}

// AvailableFormats lists the export formats offered for a recording mode.
// GIF has no audio and is never offered for audio-only recordings.
func AvailableFormats(mode models.CaptureMode) []Format {
	if mode.IsVideo() {
		return []Format{FormatWebM, FormatMP4, FormatGIF}
	}
	return []Format{FormatWebM, FormatMP4}
}

func IsOffered(mode models.CaptureMode, format Format) bool {
	return slices.Contains(AvailableFormats(mode), format)
}

// NativeFormat is the format the blob already is
func NativeFormat(blob models.Blob) Format {
	switch blob.Container() {
	case "mp4":
		return FormatMP4
	case "gif":
		return FormatGIF
	default:
		return FormatWebM
	}
}
