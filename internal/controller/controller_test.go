package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sstucker/OCTview/internal/clientapi"
	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/device"
	"github.com/sstucker/OCTview/internal/types"
)

func newTestController(t *testing.T) (*Controller, *clientapi.Queue, *clientapi.Snapshots) {
	t.Helper()
	queue := clientapi.NewQueue(4)
	snaps := clientapi.NewSnapshots()
	c := New(&device.MockGrabber{}, &device.MockDAC{}, queue, snaps, nil)
	return c, queue, snaps
}

func sendAndWait(t *testing.T, ctx context.Context, queue *clientapi.Queue, cmd *clientapi.Command) error {
	t.Helper()
	if err := queue.Enqueue(ctx, cmd); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return cmd.Wait(ctx)
}

func imageConfig() *config.ImageConfig {
	return &config.ImageConfig{
		AlinesPerBline: 8,
		BlinesPerImage: 1,
		AlineRepeat:    1,
		BlineRepeat:    1,
		RepeatMode:     "mean",
	}
}

func TestOpenTransitionsToOpenState(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Open(ctx, "camera0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.State() != types.StateOpen {
		t.Fatalf("State() = %s, want open", c.State())
	}
}

func TestOpenRejectedFromNonUnopenedState(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Open(ctx, "camera0"); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(ctx, "camera0"); err == nil {
		t.Fatal("expected error opening an already-open controller")
	}
}

func TestFullScanCycleProducesFrameSnapshot(t *testing.T) {
	c, queue, snaps := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	if err := c.Open(ctx, "camera0"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := config.Config{
		AlineSize:       64,
		AlinesInScan:    8,
		AlinesPerBuf:    8,
		NumberOfBuffers: 4,
		Processing: config.ProcessingConfig{
			ROISize: 20,
		},
		Stream: config.StreamConfig{FramesToBuffer: 4, MaxFileSizeGB: 1},
	}
	_ = cfg

	imgCmd := clientapi.NewCommand(clientapi.ConfigureImage)
	imgCmd.Image = imageConfig()
	// Build up the rest of the config via ConfigureImage's internal
	// defaulting path by first seeding a base config on the controller.
	c.mu.Lock()
	c.cfg = &config.Config{
		AlineSize:       64,
		AlinesInScan:    8,
		AlinesPerBuf:    8,
		NumberOfBuffers: 4,
		Processing:      config.ProcessingConfig{ROISize: 20},
		Stream:          config.StreamConfig{FramesToBuffer: 4, MaxFileSizeGB: 1},
	}
	c.mu.Unlock()

	if err := sendAndWait(t, ctx, queue, imgCmd); err != nil {
		t.Fatalf("configure_image: %v", err)
	}
	if c.State() != types.StateReady {
		t.Fatalf("State() = %s, want ready", c.State())
	}

	startCmd := clientapi.NewCommand(clientapi.StartScan)
	if err := sendAndWait(t, ctx, queue, startCmd); err != nil {
		t.Fatalf("start_scan: %v", err)
	}
	if c.State() != types.StateScanning {
		t.Fatalf("State() = %s, want scanning", c.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := snaps.GrabFrame(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	frame, ok := snaps.GrabFrame()
	if !ok {
		t.Fatal("expected a processed frame snapshot while scanning")
	}
	if frame.ROISize != 20 {
		t.Fatalf("ROISize = %d, want 20", frame.ROISize)
	}

	stopCmd := clientapi.NewCommand(clientapi.StopScan)
	if err := sendAndWait(t, ctx, queue, stopCmd); err != nil {
		t.Fatalf("stop_scan: %v", err)
	}
	if c.State() != types.StateReady {
		t.Fatalf("State() = %s, want ready", c.State())
	}
}

func TestStartAcquisitionStreamsRawSpectraAndStopsAtFrameCount(t *testing.T) {
	c, queue, _ := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	if err := c.Open(ctx, "camera0"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	dir := t.TempDir()
	imgCmd := clientapi.NewCommand(clientapi.ConfigureImage)
	imgCmd.Image = imageConfig()
	c.mu.Lock()
	c.cfg = &config.Config{
		AlineSize:       64,
		AlinesInScan:    8,
		AlinesPerBuf:    8,
		NumberOfBuffers: 4,
		Processing:      config.ProcessingConfig{ROISize: 20},
		Stream:          config.StreamConfig{FramesToBuffer: 4, MaxFileSizeGB: 1, Directory: dir, BaseFilename: "spectra"},
	}
	c.mu.Unlock()
	if err := sendAndWait(t, ctx, queue, imgCmd); err != nil {
		t.Fatalf("configure_image: %v", err)
	}

	startCmd := clientapi.NewCommand(clientapi.StartScan)
	if err := sendAndWait(t, ctx, queue, startCmd); err != nil {
		t.Fatalf("start_scan: %v", err)
	}

	acqCmd := clientapi.NewCommand(clientapi.StartAcquisition)
	acqCmd.NFrames = 2
	acqCmd.SaveProcessed = false
	if err := sendAndWait(t, ctx, queue, acqCmd); err != nil {
		t.Fatalf("start_acquisition: %v", err)
	}
	if c.State() != types.StateAcquiring {
		t.Fatalf("State() = %s, want acquiring", c.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	var entries []os.DirEntry
	for time.Now().Before(deadline) {
		var err error
		entries, err = os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) > 0 {
			info, err := entries[0].Info()
			if err == nil && info.Size() > 0 {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopAcqCmd := clientapi.NewCommand(clientapi.StopAcquisition)
	if err := sendAndWait(t, ctx, queue, stopAcqCmd); err != nil {
		t.Fatalf("stop_acquisition: %v", err)
	}
	stopScanCmd := clientapi.NewCommand(clientapi.StopScan)
	if err := sendAndWait(t, ctx, queue, stopScanCmd); err != nil {
		t.Fatalf("stop_scan: %v", err)
	}

	if len(entries) == 0 {
		t.Fatal("expected at least one raw-spectra file on disk")
	}
	info, err := os.Stat(filepath.Join(dir, "spectra.bin"))
	if err != nil {
		t.Fatal(err)
	}
	// NFrames=2 raw frames of 8 A-lines x 64 uint16 samples each.
	if want := int64(2 * 8 * 64 * 2); info.Size() != want {
		t.Fatalf("raw-spectra file size = %d bytes, want %d", info.Size(), want)
	}
}

func TestConfigureProcessingRejectedWhileAcquiring(t *testing.T) {
	c, _, _ := newTestController(t)
	c.state.Store(int32(types.StateAcquiring))
	cmd := clientapi.NewCommand(clientapi.ConfigureProcessing)
	cmd.Processing = &config.ProcessingConfig{ROISize: 10}
	err := c.dispatch(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected error configuring processing while ACQUIRING")
	}
}

func TestStartScanRejectedWithoutConfigureImage(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Open(ctx, "camera0"); err != nil {
		t.Fatal(err)
	}
	cmd := clientapi.NewCommand(clientapi.StartScan)
	err := c.dispatch(ctx, cmd)
	if err == nil {
		t.Fatal("expected error starting scan before configure_image")
	}
}
