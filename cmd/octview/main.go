// Command octview runs the acquisition core against a mock camera
// and galvo DAC, exercising the full configure/scan/acquire/stop
// command sequence so the pipeline and controller can be exercised
// without instrument hardware attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sstucker/OCTview/internal/clientapi"
	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/controller"
	"github.com/sstucker/OCTview/internal/device"
	"github.com/sstucker/OCTview/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the instrument configuration YAML document")
	debug := flag.Bool("debug", false, "emit JSON logs at debug level")
	duration := flag.Duration("duration", 5*time.Second, "how long to scan before exiting (demo mode)")
	flag.Parse()

	var handler slog.Handler
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("octview: received shutdown signal")
		cancel()
	}()

	if err := run(ctx, *configPath, *duration); err != nil {
		slog.Error("octview: exiting with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, duration time.Duration) error {
	cfg := defaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	var emitter *telemetry.Emitter
	if cfg.Telemetry.Enabled {
		e, err := telemetry.Connect(cfg.Telemetry.Broker, cfg.Telemetry.ClientID, cfg.Telemetry.Topic)
		if err != nil {
			slog.Warn("octview: telemetry disabled, connect failed", "error", err)
		} else {
			emitter = e
		}
	}

	queue := clientapi.NewQueue(8)
	snaps := clientapi.NewSnapshots()
	ctrl := controller.New(&device.MockGrabber{}, &device.MockDAC{}, queue, snaps, emitter)
	client := clientapi.NewClient(queue, snaps, ctrl)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()

	if err := ctrl.Open(runCtx, cfg.CameraName); err != nil {
		return fmt.Errorf("open: %w", err)
	}

	imgCmd := clientapi.NewCommand(clientapi.ConfigureImage)
	imgCmd.Image = &cfg.Image
	if err := enqueueAndWait(runCtx, queue, imgCmd); err != nil {
		return fmt.Errorf("configure_image: %w", err)
	}

	watchers := watchConfigReload(runCtx, configPath, cfg, queue)
	defer watchers.Close()

	startCmd := clientapi.NewCommand(clientapi.StartScan)
	if err := enqueueAndWait(runCtx, queue, startCmd); err != nil {
		return fmt.Errorf("start_scan: %w", err)
	}
	slog.Info("octview: scanning", "state", ctrl.State().String(), "is_scanning", client.IsScanning())

	acqCmd := clientapi.NewCommand(clientapi.StartAcquisition)
	acqCmd.NFrames = 10
	acqCmd.SaveProcessed = true
	acqCmd.Stream = &cfg.Stream
	if err := enqueueAndWait(runCtx, queue, acqCmd); err != nil {
		slog.Warn("octview: start_acquisition failed", "error", err)
	} else {
		slog.Info("octview: acquiring", "is_acquiring", client.IsAcquiring(), "directory", cfg.Stream.Directory)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-runCtx.Done():
	}

	if client.IsAcquiring() {
		stopAcqCmd := clientapi.NewCommand(clientapi.StopAcquisition)
		if err := enqueueAndWait(runCtx, queue, stopAcqCmd); err != nil {
			slog.Warn("octview: stop_acquisition failed", "error", err)
		}
	}

	stopCmd := clientapi.NewCommand(clientapi.StopScan)
	if err := enqueueAndWait(runCtx, queue, stopCmd); err != nil {
		slog.Warn("octview: stop_scan failed", "error", err)
	}

	cancelRun()
	<-done
	return nil
}

// configWatchers bundles the fsnotify watchers backing watchConfigReload
// so callers have a single handle to close on shutdown.
type configWatchers struct {
	watchers []*config.Watcher
}

// Close releases every underlying watcher. Safe to call on a nil or
// empty bundle.
func (w *configWatchers) Close() {
	if w == nil {
		return
	}
	for _, watcher := range w.watchers {
		_ = watcher.Close()
	}
}

// watchConfigReload watches the active config file and, if set, the
// apodization-window file it references, debouncing both into a
// single configure_processing command whenever either changes. Image
// geometry is not hot-reloaded: configure_image requires state OPEN
// or READY, which a running scan is not in.
func watchConfigReload(ctx context.Context, configPath string, cfg *config.Config, queue *clientapi.Queue) *configWatchers {
	paths := map[string]struct{}{}
	if configPath != "" {
		paths[configPath] = struct{}{}
	}
	if cfg.Processing.ApodWindowFile != "" {
		paths[cfg.Processing.ApodWindowFile] = struct{}{}
	}

	bundle := &configWatchers{}
	changed := make(chan struct{}, 1)
	for path := range paths {
		w, err := config.NewWatcher(path)
		if err != nil || w == nil {
			continue
		}
		bundle.watchers = append(bundle.watchers, w)
		go func(w *config.Watcher) {
			for range w.Changed {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		}(w)
	}
	if len(bundle.watchers) == 0 {
		return bundle
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				reloadProcessing(ctx, configPath, cfg, queue)
			}
		}
	}()
	return bundle
}

// reloadProcessing re-reads the processing section of configPath (if
// set, otherwise the in-memory cfg unchanged) and drives it through
// configure_processing so the pipeline picks up a new apodization
// window or other processing parameter without a restart.
func reloadProcessing(ctx context.Context, configPath string, cfg *config.Config, queue *clientapi.Queue) {
	processing := cfg.Processing
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			slog.Warn("octview: config hot-reload failed", "error", err)
			return
		}
		processing = loaded.Processing
	}
	cmd := clientapi.NewCommand(clientapi.ConfigureProcessing)
	cmd.Processing = &processing
	if err := enqueueAndWait(ctx, queue, cmd); err != nil {
		slog.Warn("octview: hot-reload configure_processing failed", "error", err)
	}
}

func enqueueAndWait(ctx context.Context, queue *clientapi.Queue, cmd *clientapi.Command) error {
	if err := queue.Enqueue(ctx, cmd); err != nil {
		return err
	}
	return cmd.Wait(ctx)
}

func defaultConfig() *config.Config {
	cfg := &config.Config{
		CameraName:      "mock0",
		AlineSize:       512,
		AlinesInScan:    1000,
		AlinesPerBuf:    500,
		NumberOfBuffers: 4,
		Image: config.ImageConfig{
			AlinesPerBline: 500,
			BlinesPerImage: 1,
			AlineRepeat:    1,
			BlineRepeat:    1,
			RepeatMode:     "mean",
			// Selects 500 of the 1000 physically scanned A-lines as
			// two runs, one per sub-buffer, demonstrating the
			// pre-compiled copy-block path rather than scanning and
			// imaging the same A-line count.
			ImageMask: defaultImageMask(),
		},
		Processing: config.ProcessingConfig{
			SubtractBackground: false,
			Interp:             true,
			Interpdk:           0.1,
			ROIOffset:          0,
			ROISize:            128,
			NFrameAvg:          1,
		},
		Stream: config.StreamConfig{
			Directory:      os.TempDir(),
			BaseFilename:   "octview",
			MaxFileSizeGB:  1,
			FramesToBuffer: 8,
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// defaultImageMask selects A-lines [0,250) and [500,750) out of a
// 1000 A-line physical scan split across two 500 A-line sub-buffers,
// one contiguous run per sub-buffer.
func defaultImageMask() []int {
	mask := make([]int, 1000)
	for i := 0; i < 250; i++ {
		mask[i] = 1
	}
	for i := 500; i < 750; i++ {
		mask[i] = 1
	}
	return mask
}
