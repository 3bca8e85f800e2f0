package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/compositing"
	"github.com/yeti47/cryospy/screencap/config"
	"github.com/yeti47/cryospy/screencap/exporting"
	"github.com/yeti47/cryospy/screencap/models"
)

var (
	configPath string
	overrides  config.ConfigOverrides

	Root = &cobra.Command{
		Use:          "screencap",
		Short:        "Record the screen, a camera or the microphone and export the result",
		SilenceUsage: true,
	}

	Record = &cobra.Command{
		Use:   "record",
		Short: "Record until the duration elapses or Ctrl+C is pressed, then export",
		Args:  cobra.NoArgs,
		RunE:  record,
	}

	Formats = &cobra.Command{
		Use:   "formats",
		Short: "List the export formats offered for a capture mode",
		Args:  cobra.NoArgs,
		RunE:  formats,
	}
)

func init() {
	Root.AddCommand(Record)
	Root.AddCommand(Formats)

	flags := Root.PersistentFlags()
	flags.StringVar(&configPath, "config", "config.json", "Path to the config file")
	overrides.CaptureMode = flags.String("mode", "", "Capture mode: screen, camera or audio (overrides config)")
	overrides.LogLevel = flags.String("log-level", "", "Log level (overrides config)")

	recordFlags := Record.Flags()
	overrides.Quality = recordFlags.Int("quality", 0, "Vertical resolution: 1080, 720 or 480 (overrides config)")
	overrides.FrameRate = recordFlags.Int("fps", 0, "Capture frame rate: 60, 30 or 24 (overrides config)")
	overrides.CountdownSeconds = recordFlags.Int("countdown", -1, "Countdown in seconds before recording starts (overrides config)")
	overrides.CameraDevice = recordFlags.String("camera-device", "", "Camera device (overrides config)")
	overrides.DisplayIndex = recordFlags.Int("display", -1, "Display index for screen capture (overrides config)")
	overrides.ExportFormat = recordFlags.String("format", "", "Export format: webm, mp4 or gif (overrides config)")
	overrides.DownloadDirectory = recordFlags.String("out", "", "Directory exports are saved to (overrides config)")
	overrides.MetricsAddress = recordFlags.String("metrics-addr", "", "Address serving /metrics, e.g. :9090 (overrides config)")

	recordFlags.Bool("audio", false, "Record microphone audio with screen captures (overrides config)")
	recordFlags.Duration("duration", 0, "Stop automatically after this long, 0 records until Ctrl+C")
	recordFlags.Duration("trim-start", 0, "Drop everything before this point of the recording")
	recordFlags.Duration("trim-end", 0, "Drop everything after this point of the recording")
	recordFlags.StringSlice("filter", nil, "Filter as key=value, e.g. brightness=120, grayscale=1 (repeatable)")
	recordFlags.String("overlay", "", "Caption drawn over the whole video")
	recordFlags.Bool("synthetic", false, "Record generated test frames instead of real devices")
}

func main() {
	if err := Root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("audio") {
		audio, _ := cmd.Flags().GetBool("audio")
		overrides.IncludeAudio = &audio
	}
	cfg.Override(overrides)
	return cfg, nil
}

func record(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	plan, err := editPlanFromFlags(cmd, cfg)
	if err != nil {
		return err
	}
	maxDuration, _ := cmd.Flags().GetDuration("duration")
	synthetic, _ := cmd.Flags().GetBool("synthetic")

	logger := common.CreateLogger(common.LogLevel(cfg.LogLevel), cfg.LogDirectory, "screencap.log")
	logger.Info("Configuration loaded", "mode", cfg.CaptureMode, "quality", cfg.Quality, "frameRate", cfg.FrameRate,
		"audio", cfg.IncludeAudio, "format", cfg.ExportFormat, "downloads", cfg.DownloadDirectory)

	app, err := NewCaptureApp(cfg, synthetic, logger)
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}
	defer app.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := app.Record(ctx, maxDuration)
	if err != nil {
		return err
	}
	// A second Ctrl+C during rendering aborts the render
	stop()
	exportCtx, cancelExport := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelExport()

	deliverable, err := app.Export(exportCtx, rec, plan)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	logger.Info("Export queued", "filename", deliverable.Filename, "format", deliverable.Format, "fallback", deliverable.IsFallback())
	return nil
}

func formats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode, err := models.ParseCaptureMode(cfg.CaptureMode)
	if err != nil {
		return err
	}
	for _, format := range exporting.AvailableFormats(mode) {
		fmt.Println(format)
	}
	return nil
}

func editPlanFromFlags(cmd *cobra.Command, cfg *config.Config) (EditPlan, error) {
	format, err := exporting.ParseFormat(cfg.ExportFormat)
	if err != nil {
		return EditPlan{}, err
	}

	plan := EditPlan{Format: format, Filters: make(map[compositing.FilterKey]float64)}
	plan.TrimStart, _ = cmd.Flags().GetDuration("trim-start")
	plan.TrimEnd, _ = cmd.Flags().GetDuration("trim-end")
	if plan.TrimEnd > 0 && plan.TrimEnd < plan.TrimStart {
		return EditPlan{}, fmt.Errorf("--trim-end (%v) is before --trim-start (%v)", plan.TrimEnd, plan.TrimStart)
	}
	plan.Overlay, _ = cmd.Flags().GetString("overlay")

	filters, _ := cmd.Flags().GetStringSlice("filter")
	for _, raw := range filters {
		key, value, err := parseFilter(raw)
		if err != nil {
			return EditPlan{}, err
		}
		plan.Filters[key] = value
	}
	return plan, nil
}

// parseFilter reads "key=value". A bare key switches a toggle filter on.
func parseFilter(raw string) (compositing.FilterKey, float64, error) {
	name, value, found := strings.Cut(strings.TrimSpace(raw), "=")
	key := compositing.FilterKey(strings.TrimSpace(name))
	if !found {
		return key, 1, nil
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid value for filter %s: %w", key, err)
	}
	return key, number, nil
}
