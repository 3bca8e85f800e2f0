package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the application configuration
type Config struct {
	TempDirectory     string `json:"temp_directory"`     // Playable handles and ffmpeg scratch files
	DownloadDirectory string `json:"download_directory"` // Where exported files are delivered
	LogDirectory      string `json:"log_directory"`
	LogLevel          string `json:"log_level"`

	CaptureMode      string `json:"capture_mode"` // screen, camera or audio
	Quality          int    `json:"quality"`      // 1080, 720 or 480
	FrameRate        int    `json:"frame_rate"`   // 60, 30 or 24
	IncludeAudio     bool   `json:"include_audio"`
	ShowCursor       bool   `json:"show_cursor"`
	CountdownSeconds int    `json:"countdown_seconds"` // Visual delay before the first start, 0 disables it

	ChunkIntervalMillis int    `json:"chunk_interval_millis"` // Encoder timeslice
	VideoBitRate        string `json:"video_bitrate"`         // e.g. "2500k"
	DisplayIndex        int    `json:"display_index"`
	CameraDevice        string `json:"camera_device"`
	MicrophoneRate      int    `json:"microphone_sample_rate"`

	OutputFrameRate             int `json:"output_frame_rate"`              // Frame rate of composited exports
	MaxConsecutiveFrameFailures int `json:"max_consecutive_frame_failures"` // Abort threshold for frame seek failures

	ExportFormat         string `json:"export_format"`      // webm, mp4 or gif
	FFmpegPath           string `json:"ffmpeg_path"`        // ffmpeg binary used by the encoder and the transcoder
	ExportVideoCodec     string `json:"export_video_codec"` // H.264 encoder for mp4 exports, falls back along the codec chain
	GIFFrameRate         int    `json:"gif_frame_rate"`
	GIFWidth             int    `json:"gif_width"`
	DeliveryBufferSize   int    `json:"delivery_buffer_size"`
	DeliveryMaxRetries   int    `json:"delivery_max_retries"`
	DeliveryDrainSeconds int    `json:"delivery_drain_seconds"`

	MetricsAddress string `json:"metrics_address"` // Empty disables the /metrics endpoint
}

// DefaultConfig returns the configuration written when no config file exists
func DefaultConfig() *Config {
	cfg := &Config{
		CaptureMode:      "screen",
		IncludeAudio:     true,
		ShowCursor:       true,
		CountdownSeconds: 3,
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			defaultConfig := DefaultConfig()
			if err := saveConfig(filename, defaultConfig); err != nil {
				return nil, fmt.Errorf("failed to create default config file: %w", err)
			}
			fmt.Printf("Default config file created at %s\n", filename)
			return defaultConfig, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults sets defaults for missing values
func (c *Config) applyDefaults() {
	if c.TempDirectory == "" {
		c.TempDirectory = "temp"
	}
	if c.DownloadDirectory == "" {
		c.DownloadDirectory = "recordings"
	}
	if c.LogDirectory == "" {
		c.LogDirectory = "logs"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CaptureMode == "" {
		c.CaptureMode = "screen"
	}
	if c.Quality == 0 {
		c.Quality = 1080
	}
	if c.FrameRate == 0 {
		c.FrameRate = 30
	}
	if c.ChunkIntervalMillis == 0 {
		c.ChunkIntervalMillis = 1000
	}
	if c.VideoBitRate == "" {
		c.VideoBitRate = "2500k"
	}
	if c.CameraDevice == "" {
		c.CameraDevice = "0"
	}
	if c.MicrophoneRate == 0 {
		c.MicrophoneRate = 48000
	}
	if c.OutputFrameRate == 0 {
		c.OutputFrameRate = 30
	}
	if c.MaxConsecutiveFrameFailures == 0 {
		c.MaxConsecutiveFrameFailures = 3
	}
	if c.ExportFormat == "" {
		c.ExportFormat = "webm"
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.ExportVideoCodec == "" {
		c.ExportVideoCodec = "libx264"
	}
	if c.GIFFrameRate == 0 {
		c.GIFFrameRate = 10
	}
	if c.GIFWidth == 0 {
		c.GIFWidth = 640
	}
	if c.DeliveryBufferSize == 0 {
		c.DeliveryBufferSize = 4
	}
	if c.DeliveryMaxRetries == 0 {
		c.DeliveryMaxRetries = 3
	}
	if c.DeliveryDrainSeconds == 0 {
		c.DeliveryDrainSeconds = 30
	}
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	CaptureMode       *string
	Quality           *int
	FrameRate         *int
	IncludeAudio      *bool
	ShowCursor        *bool
	CountdownSeconds  *int
	CameraDevice      *string
	DisplayIndex      *int
	ExportFormat      *string
	DownloadDirectory *string
	LogLevel          *string
	MetricsAddress    *string
}

// Override allows overriding specific configuration values using ConfigOverrides struct
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.CaptureMode != nil && *overrides.CaptureMode != "" {
		c.CaptureMode = *overrides.CaptureMode
	}
	if overrides.Quality != nil && *overrides.Quality > 0 {
		c.Quality = *overrides.Quality
	}
	if overrides.FrameRate != nil && *overrides.FrameRate > 0 {
		c.FrameRate = *overrides.FrameRate
	}
	if overrides.IncludeAudio != nil {
		c.IncludeAudio = *overrides.IncludeAudio
	}
	if overrides.ShowCursor != nil {
		c.ShowCursor = *overrides.ShowCursor
	}
	if overrides.CountdownSeconds != nil && *overrides.CountdownSeconds >= 0 {
		c.CountdownSeconds = *overrides.CountdownSeconds
	}
	if overrides.CameraDevice != nil && *overrides.CameraDevice != "" {
		c.CameraDevice = *overrides.CameraDevice
	}
	if overrides.DisplayIndex != nil && *overrides.DisplayIndex >= 0 {
		c.DisplayIndex = *overrides.DisplayIndex
	}
	if overrides.ExportFormat != nil && *overrides.ExportFormat != "" {
		c.ExportFormat = *overrides.ExportFormat
	}
	if overrides.DownloadDirectory != nil && *overrides.DownloadDirectory != "" {
		c.DownloadDirectory = *overrides.DownloadDirectory
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
	if overrides.MetricsAddress != nil && *overrides.MetricsAddress != "" {
		c.MetricsAddress = *overrides.MetricsAddress
	}
}

// saveConfig saves a configuration to a JSON file
func saveConfig(filename string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
