package common

import (
	"fmt"
	"strings"
	"time"
)

// ContainerToFileExtension returns the file extension (with dot) for a container name or MIME type
func ContainerToFileExtension(container string, audioOnly bool) string {
	switch containerName(container) {
	case "webm":
		return ".webm"
	case "mp4":
		if audioOnly {
			return ".m4a"
		}
		return ".mp4"
	case "gif":
		return ".gif"
	case "x-matroska", "mkv":
		return ".mkv"
	default:
		return ".webm"
	}
}

// ContainerToMimeType returns the bare MIME type for a container format
func ContainerToMimeType(container string, audioOnly bool) string {
	kind := "video"
	if audioOnly {
		kind = "audio"
	}
	switch containerName(container) {
	case "mp4":
		return kind + "/mp4"
	case "gif":
		return "image/gif"
	case "x-matroska", "mkv":
		return kind + "/x-matroska"
	default:
		return kind + "/webm"
	}
}

// containerName normalises "video/webm;codecs=vp9", ".webm" and "webm" to "webm"
func containerName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimPrefix(s, ".")
}

// FormatFFmpegTimestamp renders d as HH:MM:SS.mmm for ffmpeg seek/duration options
func FormatFFmpegTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int(d / time.Second)
	d -= time.Duration(seconds) * time.Second
	millis := int(d / time.Millisecond)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
