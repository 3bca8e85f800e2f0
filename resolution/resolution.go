package resolution

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yeti47/cryospy/screencap/models"
)

type Resolution struct {
	Width  int
	Height int
}

func Resolution480p() Resolution {
	return Resolution{Width: 854, Height: 480}
}
func Resolution720p() Resolution {
	return Resolution{Width: 1280, Height: 720}
}
func Resolution1080p() Resolution {
	return Resolution{Width: 1920, Height: 1080}
}

// ForQuality maps a capture quality to the resolution hint handed to capture devices.
// Unknown qualities map to 1080p, the highest supported hint.
func ForQuality(q models.Quality) Resolution {
	switch q {
	case models.Quality480:
		return Resolution480p()
	case models.Quality720:
		return Resolution720p()
	default:
		return Resolution1080p()
	}
}

// Returns the string representation of this Resolution (e.g. 1280x720)
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Format replaces "w" and "h" in formatString, e.g. Format("w:h") gives "1280:720" for ffmpeg scale filters
func (r Resolution) Format(formatString string) string {
	result := strings.ReplaceAll(formatString, "w", strconv.Itoa(r.Width))
	result = strings.ReplaceAll(result, "h", strconv.Itoa(r.Height))
	return result
}

// IsEmpty checks if the resolution is empty (both width and height are zero).
func (r Resolution) IsEmpty() bool {
	return r.Width == 0 && r.Height == 0
}

// FitWithin scales r down, preserving its aspect ratio, until it fits inside bounds.
// Both dimensions are rounded to even numbers because most video encoders require it.
func (r Resolution) FitWithin(bounds Resolution) Resolution {
	if r.IsEmpty() || bounds.IsEmpty() {
		return r
	}
	if r.Width <= bounds.Width && r.Height <= bounds.Height {
		return Resolution{Width: r.Width &^ 1, Height: r.Height &^ 1}
	}

	scale := min(float64(bounds.Width)/float64(r.Width), float64(bounds.Height)/float64(r.Height))
	width := int(float64(r.Width) * scale)
	height := int(float64(r.Height) * scale)
	return Resolution{Width: max(width&^1, 2), Height: max(height&^1, 2)}
}

// Parse converts a string representation of a resolution (e.g., "1920x1080") into a Resolution struct.
// Supported formats:
// - "1920x1080"
// - "1920:1080"
// - "1080p", "720p", "480p"
func Parse(resolutionStr string) (Resolution, error) {
	resolutionStr = strings.ToLower(strings.TrimSpace(resolutionStr))
	switch {
	case strings.Contains(resolutionStr, "x"):
		return parseDimensions(resolutionStr)
	case strings.Contains(resolutionStr, ":"):
		return parseDimensions(strings.ReplaceAll(resolutionStr, ":", "x"))
	case strings.HasSuffix(resolutionStr, "p"):
		q, err := strconv.Atoi(strings.TrimSuffix(resolutionStr, "p"))
		if err != nil || !models.Quality(q).IsValid() {
			return Resolution{}, fmt.Errorf("unsupported resolution preset: %s", resolutionStr)
		}
		return ForQuality(models.Quality(q)), nil
	default:
		return Resolution{}, fmt.Errorf("invalid resolution format: %s", resolutionStr)
	}
}

func parseDimensions(dimStr string) (Resolution, error) {
	parts := strings.Split(dimStr, "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid dimensions: %s", dimStr)
	}

	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid width: %s", parts[0])
	}

	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid height: %s", parts[1])
	}

	return Resolution{Width: width, Height: height}, nil
}
