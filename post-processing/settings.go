package postprocessing

import (
	"github.com/yeti47/cryospy/screencap/config"
)

type PostProcessingSettings struct {
	VideoCodec   string // H.264 encoder for mp4 output, resolved through the fallback chain (e.g. "libx264")
	AudioCodec   string // Audio encoder for mp4 output (e.g. "aac")
	WebMCodec    string // Video encoder used when re-encoding a trimmed webm (e.g. "libvpx-vp9")
	WebMAudio    string // Audio encoder used when re-encoding a trimmed webm (e.g. "libopus")
	VideoBitRate string // Bitrate for re-encoded video (e.g. "2500k")
	GIFFrameRate int    // Frame rate of gif exports
	GIFWidth     int    // Width of gif exports, height keeps the aspect ratio
}

var DefaultPostProcessingSettings = PostProcessingSettings{
	VideoCodec:   "libx264",
	AudioCodec:   "aac",
	WebMCodec:    "libvpx-vp9",
	WebMAudio:    "libopus",
	VideoBitRate: "2500k",
	GIFFrameRate: 10,
	GIFWidth:     640,
}

// PostProcessingSettingsProvider maps the application config onto post-processing settings
type PostProcessingSettingsProvider struct {
	configProvider config.SettingsProvider[config.Config]
}

func NewPostProcessingSettingsProvider(configProvider config.SettingsProvider[config.Config]) *PostProcessingSettingsProvider {
	return &PostProcessingSettingsProvider{configProvider: configProvider}
}

// GetSettings returns the current post-processing settings, defaulting unset values
func (p *PostProcessingSettingsProvider) GetSettings() PostProcessingSettings {
	cfg := p.configProvider.GetSettings()
	settings := DefaultPostProcessingSettings

	if cfg.ExportVideoCodec != "" {
		settings.VideoCodec = cfg.ExportVideoCodec
	}
	if cfg.VideoBitRate != "" {
		settings.VideoBitRate = cfg.VideoBitRate
	}
	if cfg.GIFFrameRate > 0 {
		settings.GIFFrameRate = cfg.GIFFrameRate
	}
	if cfg.GIFWidth > 0 {
		settings.GIFWidth = cfg.GIFWidth
	}
	return settings
}
