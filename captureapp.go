package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yeti47/cryospy/screencap/common"
	"github.com/yeti47/cryospy/screencap/compositing"
	"github.com/yeti47/cryospy/screencap/config"
	"github.com/yeti47/cryospy/screencap/delivery"
	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/encoding"
	"github.com/yeti47/cryospy/screencap/exporting"
	filemanagement "github.com/yeti47/cryospy/screencap/file-management"
	"github.com/yeti47/cryospy/screencap/metrics"
	"github.com/yeti47/cryospy/screencap/models"
	postprocessing "github.com/yeti47/cryospy/screencap/post-processing"
	"github.com/yeti47/cryospy/screencap/recording"
)

const stopTimeout = 30 * time.Second

// EditPlan is what the editor applies to a finished recording before it is exported
type EditPlan struct {
	Format    exporting.Format
	TrimStart time.Duration
	TrimEnd   time.Duration // 0 keeps the recording's end
	Filters   map[compositing.FilterKey]float64
	Overlay   string
}

// CaptureApp orchestrates recording, editing, exporting and delivery
type CaptureApp struct {
	config      *config.Config
	logger      common.Logger
	metrics     *metrics.Metrics
	fileTracker *filemanagement.LocalFileTracker
	session     *recording.Session
	renderer    *compositing.Renderer
	sources     compositing.FrameSourceFactory
	exporter    *exporting.Coordinator
	queue       delivery.DownloadQueue

	isRunning     bool
	mu            sync.RWMutex
	shutdownChan  chan struct{}
	wg            sync.WaitGroup
	metricsServer *http.Server
}

// NewCaptureApp wires every component from cfg. synthetic swaps the capture hardware for generated frames.
func NewCaptureApp(cfg *config.Config, synthetic bool, logger common.Logger) (*CaptureApp, error) {
	logger = common.LoggerOrNop(logger)

	mode, err := models.ParseCaptureMode(cfg.CaptureMode)
	if err != nil {
		return nil, err
	}
	settings := models.RecordingSettings{
		Quality:      models.Quality(cfg.Quality),
		FrameRate:    cfg.FrameRate,
		IncludeAudio: cfg.IncludeAudio,
		ShowCursor:   cfg.ShowCursor,
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recording settings: %w", err)
	}

	m := metrics.New()
	fileTracker := filemanagement.NewLocalFileTracker(cfg.TempDirectory, logger)
	codecProvider := common.NewFFmpegCodecProvider()

	var backend devices.Backend
	if synthetic {
		logger.Info("Using synthetic capture devices")
		backend = devices.NewFakeBackend()
	} else {
		backend = devices.NewDesktopBackend(cfg.DisplayIndex, cfg.CameraDevice, logger)
	}
	acquirer := devices.NewAcquirer(backend, devices.AcquirerOptions{SampleRate: cfg.MicrophoneRate}, logger)

	engine := encoding.NewEngine(
		encoding.NewFFmpegEncoder(cfg.FFmpegPath, codecProvider, logger),
		encoding.EngineSettings{
			Timeslice:    time.Duration(cfg.ChunkIntervalMillis) * time.Millisecond,
			VideoBitRate: cfg.VideoBitRate,
		},
		logger,
	)

	session := recording.NewSession(acquirer, engine, fileTracker, mode, settings, recording.SessionOptions{
		Countdown: cfg.CountdownSeconds,
		Metrics:   m,
	}, logger)

	postProcessingSettings := postprocessing.NewPostProcessingSettingsProvider(config.NewMutableSettingsProvider(*cfg))
	trimmer := postprocessing.NewFfmpegTrimmer(fileTracker, codecProvider, postProcessingSettings, logger)
	transcoder := postprocessing.NewFfmpegTranscoder(fileTracker, codecProvider, postProcessingSettings, logger)

	sources := compositing.NewGoCVSourceFactory(fileTracker, logger)
	renderer := compositing.NewRenderer(sources, compositing.NewEncoderSinkFactory(engine, logger), trimmer, compositing.RendererSettings{
		MaxConsecutiveFailures: cfg.MaxConsecutiveFrameFailures,
		Metrics:                m,
	}, logger)

	queue := delivery.NewDownloadQueue(delivery.QueueSettings{
		Directory:    cfg.DownloadDirectory,
		BufferSize:   cfg.DeliveryBufferSize,
		MaxRetries:   cfg.DeliveryMaxRetries,
		DrainTimeout: time.Duration(cfg.DeliveryDrainSeconds) * time.Second,
		Metrics:      m,
	}, logger)

	return &CaptureApp{
		config:       cfg,
		logger:       logger,
		metrics:      m,
		fileTracker:  fileTracker,
		session:      session,
		renderer:     renderer,
		sources:      sources,
		exporter:     exporting.NewCoordinator(transcoder, exporting.CoordinatorSettings{Metrics: m}, logger),
		queue:        queue,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start prepares the temp directory and starts the delivery worker and the metrics endpoint
func (a *CaptureApp) Start() error {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return fmt.Errorf("capture app is already running")
	}
	a.isRunning = true
	a.mu.Unlock()

	if err := a.fileTracker.EnsureTempDirectory(); err != nil {
		a.mu.Lock()
		a.isRunning = false
		a.mu.Unlock()
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	a.wg.Add(1)
	go a.queue.Start(a.shutdownChan, &a.wg,
		func(job *delivery.DeliveryJob) {
			fmt.Printf("Saved %s\n", job.Path)
		},
		func(job *delivery.DeliveryJob, err error) {
			fmt.Printf("Could not save %s: %v\n", job.Filename(), err)
		},
	)

	if a.config.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		a.metricsServer = &http.Server{Addr: a.config.MetricsAddress, Handler: mux}
		go func() {
			a.logger.Info("Serving metrics", "address", a.config.MetricsAddress)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	a.logger.Info("Capture app started")
	return nil
}

// Record captures until maxDuration elapses, ctx is cancelled or the devices go away.
// maxDuration 0 records until ctx is cancelled.
func (a *CaptureApp) Record(ctx context.Context, maxDuration time.Duration) (*models.Recording, error) {
	interrupted := make(chan struct{})
	var once sync.Once
	unsubscribe := a.session.Subscribe(func(snapshot recording.Snapshot) {
		if snapshot.Status == recording.StatusCountdown {
			fmt.Printf("Recording starts in %d...\n", snapshot.CountdownRemaining)
		}
		if snapshot.Status == recording.StatusIdle && snapshot.Interruption != nil {
			once.Do(func() { close(interrupted) })
		}
	})
	defer unsubscribe()

	if err := a.session.Start(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", recording.UserMessage(err), err)
	}
	fmt.Println("Recording... press Ctrl+C to stop")

	var timeout <-chan time.Time
	if maxDuration > 0 {
		timer := time.NewTimer(maxDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-timeout:
	case <-ctx.Done():
	case <-interrupted:
		snapshot := a.session.Snapshot()
		a.logger.Warn("Recording stopped by the system", "cause", snapshot.Interruption)
		if snapshot.Recording == nil {
			return nil, fmt.Errorf("%s: %w", recording.UserMessage(snapshot.Err), snapshot.Err)
		}
		fmt.Printf("Recording interrupted: %s\n", recording.UserMessage(snapshot.Interruption))
		return snapshot.Recording, nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	rec, err := a.session.Stop(stopCtx)
	if err != nil {
		// The devices may have gone away while we were stopping
		if recording.IsInvalidTransitionError(err) && a.session.Recording() != nil {
			return a.session.Recording(), nil
		}
		return nil, fmt.Errorf("%s: %w", recording.UserMessage(err), err)
	}

	fmt.Printf("Recorded %v (%s)\n", rec.Duration.Round(time.Millisecond), humanize.Bytes(uint64(rec.Blob.Size())))
	return rec, nil
}

// Export applies plan to rec and hands the result to the delivery queue
func (a *CaptureApp) Export(ctx context.Context, rec *models.Recording, plan EditPlan) (*exporting.Deliverable, error) {
	editor, err := compositing.NewEditor(rec, a.renderer, a.sources, a.exporter, compositing.EditorOptions{
		FrameRate: a.config.OutputFrameRate,
		Replacer:  a.session,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	defer editor.Close()

	if plan.TrimStart > 0 || plan.TrimEnd > 0 {
		end := plan.TrimEnd
		if end <= 0 {
			end = rec.Duration
		}
		if err := editor.SetTrim(plan.TrimStart, end); err != nil {
			return nil, err
		}
	}
	for key, value := range plan.Filters {
		if err := editor.SetFilter(key, value); err != nil {
			return nil, err
		}
	}
	if plan.Overlay != "" && rec.Mode.IsVideo() {
		overlay := compositing.NewTextOverlay(plan.Overlay, compositing.Point{X: 24, Y: 48}, 0, 0)
		if _, err := editor.AddTextOverlay(overlay); err != nil {
			return nil, err
		}
	}

	lastReported := -1
	deliverable, err := editor.RenderAndExport(ctx, plan.Format, func(p compositing.Progress) {
		percent := int(p.Fraction() * 100)
		if percent/10 != lastReported/10 {
			lastReported = percent
			fmt.Printf("Rendering %d%%\n", percent)
		}
	})
	if err != nil {
		return nil, err
	}
	if deliverable.Notice != "" {
		fmt.Println(deliverable.Notice)
	}

	if !a.queue.Queue(&delivery.DeliveryJob{Deliverable: deliverable}) {
		return nil, fmt.Errorf("delivery queue is full, %s was not saved", deliverable.Filename)
	}
	return deliverable, nil
}

// Stop drains pending deliveries and releases every device and temp file
func (a *CaptureApp) Stop() error {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return nil
	}
	a.isRunning = false
	a.mu.Unlock()

	a.logger.Info("Stopping capture app")

	a.session.Close()

	close(a.shutdownChan)
	a.wg.Wait()

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to shut down metrics endpoint", "error", err)
		}
	}

	a.fileTracker.CleanupTempDirectory()
	a.logger.Info("Capture app stopped")
	return nil
}
