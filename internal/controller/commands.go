package controller

import (
	"context"
	"fmt"

	"github.com/sstucker/OCTview/internal/clientapi"
	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/filestream"
	"github.com/sstucker/OCTview/internal/pipeline"
	"github.com/sstucker/OCTview/internal/ringbuf"
	"github.com/sstucker/OCTview/internal/types"
)

func (c *Controller) handleConfigureImage(cmd *clientapi.Command) error {
	switch c.State() {
	case types.StateOpen, types.StateReady:
	default:
		return fmt.Errorf("controller: configure_image requires state OPEN or READY, got %s", c.State())
	}
	if cmd.Image == nil {
		return fmt.Errorf("controller: configure_image requires an image config")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg
	if cfg == nil {
		cfg = &config.Config{}
	}
	next := *cfg
	next.Image = *cmd.Image
	config.ApplyDefaults(&next)
	if err := config.Validate(&next); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	alinesInImage := next.Image.AlinesInImage()
	maskPlan, err := compileMaskBlocks(next.Image.ImageMask, next.AlinesInScan, next.AlinesPerBuf, alinesInImage)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if err := c.grabber.SetupBuffers(next.NumberOfBuffers, next.AlineSize, next.AlinesInScan); err != nil {
		return fmt.Errorf("controller: setup buffers: %w", err)
	}

	apodWindow, err := config.LoadApodWindow(next.Processing.ApodWindowFile, next.AlineSize)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	collapsed := next.Image.AlinesPerBline * next.Image.BlinesPerImage
	pipe, err := pipeline.New(pipeline.Config{
		AlineSize:          next.AlineSize,
		AlinesInImage:      alinesInImage,
		SubtractBackground: next.Processing.SubtractBackground,
		Interp:             next.Processing.Interp,
		Interpdk:           next.Processing.Interpdk,
		ApodWindow:         apodWindow,
		ROIOffset:          next.Processing.ROIOffset,
		ROISize:            next.Processing.ROISize,
	})
	if err != nil {
		return fmt.Errorf("controller: build pipeline: %w", err)
	}

	if c.pipe != nil {
		c.pipe.Close()
	}
	c.pipe = pipe
	c.rawRing = ringbuf.New[uint16](next.NumberOfBuffers, next.AlineSize*alinesInImage)
	c.procRing = ringbuf.New[complex64](next.Stream.FramesToBuffer, collapsed*next.Processing.ROISize)
	c.maskPlan = maskPlan
	c.cfg = &next
	c.setState(types.StateReady)
	c.emitTelemetry("state_transition", map[string]any{"state": c.State().String()})
	return nil
}

func (c *Controller) handleConfigureProcessing(cmd *clientapi.Command) error {
	if c.State() == types.StateAcquiring {
		return fmt.Errorf("controller: configure_processing is not allowed while ACQUIRING")
	}
	if cmd.Processing == nil {
		return fmt.Errorf("controller: configure_processing requires a processing config")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil || c.pipe == nil {
		return fmt.Errorf("controller: configure_processing requires configure_image first")
	}
	next := *c.cfg
	current := next.Processing
	next.Processing = *cmd.Processing
	if err := config.ValidateHotReload(c.cfg, &next); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	apodWindow, err := config.LoadApodWindow(next.Processing.ApodWindowFile, next.AlineSize)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	err = c.pipe.Reconfigure(pipeline.Config{
		AlineSize:          next.AlineSize,
		AlinesInImage:      next.Image.AlinesInImage(),
		SubtractBackground: next.Processing.SubtractBackground,
		Interp:             next.Processing.Interp,
		Interpdk:           next.Processing.Interpdk,
		ApodWindow:         apodWindow,
		ROIOffset:          next.Processing.ROIOffset,
		ROISize:            next.Processing.ROISize,
	})
	if err != nil {
		next.Processing = current
		return fmt.Errorf("controller: reconfigure pipeline: %w", err)
	}
	c.cfg = &next
	return nil
}

func (c *Controller) handleStartScan(ctx context.Context, cmd *clientapi.Command) error {
	if c.State() != types.StateReady {
		return fmt.Errorf("controller: start_scan requires state READY, got %s", c.State())
	}
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	if cfg == nil {
		return fmt.Errorf("controller: start_scan requires configure_image first")
	}

	x, y := cmd.ScanX, cmd.ScanY
	outputHz := cmd.OutputHz
	if outputHz == 0 {
		outputHz = cfg.Scan.DACOutputRate
	}
	if len(x) > 0 {
		if err := c.dac.Open(ctx, cfg.Scan.AOChannelX, cfg.Scan.AOChannelY, cfg.Scan.AOChannelLineTr, cfg.Scan.AOChannelFrmTr, cfg.Scan.AOChannelStart); err != nil {
			return fmt.Errorf("controller: open dac: %w", err)
		}
		if err := c.dac.SetPattern(x, y, outputHz); err != nil {
			return fmt.Errorf("controller: set scan pattern: %w", err)
		}
	}
	if err := c.grabber.StartScan(); err != nil {
		c.fail(fmt.Errorf("start scan: %w", err))
		return err
	}
	if c.dac != nil {
		_ = c.dac.DriveStartTriggerHigh()
	}

	c.stopScanRequested.Store(false)
	c.setState(types.StateScanning)
	c.emitTelemetry("state_transition", map[string]any{"state": c.State().String()})

	c.wg.Add(1)
	go c.runFrameCycle(ctx)
	return nil
}

func (c *Controller) handleStopScan() error {
	if c.State() != types.StateScanning {
		return fmt.Errorf("controller: stop_scan requires state SCANNING, got %s", c.State())
	}
	c.stopScanLocked()
	return nil
}

func (c *Controller) stopScanLocked() {
	c.stopScanRequested.Store(true)
	c.wg.Wait()
	if c.grabber != nil {
		_ = c.grabber.StopScan()
	}
	if c.dac != nil {
		_ = c.dac.DriveStartTriggerLow()
	}
	c.setState(types.StateReady)
	c.emitTelemetry("state_transition", map[string]any{"state": c.State().String()})
}

func (c *Controller) handleStartAcquisition(ctx context.Context, cmd *clientapi.Command) error {
	if c.State() != types.StateScanning {
		return fmt.Errorf("controller: start_acquisition requires state SCANNING, got %s", c.State())
	}
	c.mu.Lock()
	next := *c.cfg
	if cmd.Stream != nil {
		next.Stream = *cmd.Stream
	}
	c.cfg = &next
	cfg := &next
	procRing := c.procRing
	rawRing := c.rawRing
	c.mu.Unlock()

	var streamer frameStreamer
	var startSeq int64
	if cmd.SaveProcessed {
		s, err := filestream.New(procRing, filestream.Config[complex64]{
			Directory:      cfg.Stream.Directory,
			BaseFilename:   cfg.Stream.BaseFilename,
			MaxFileSizeGB:  cfg.Stream.MaxFileSizeGB,
			FrameSizeBytes: int64(procRing.ElemLen()) * 8,
			Encode:         filestream.EncodeComplex64,
		})
		if err != nil {
			return fmt.Errorf("controller: build streamer: %w", err)
		}
		streamer = s
		startSeq = procRing.Count() + int64(cfg.Stream.InitBufferOffset)
	} else {
		s, err := filestream.New(rawRing, filestream.Config[uint16]{
			Directory:      cfg.Stream.Directory,
			BaseFilename:   cfg.Stream.BaseFilename,
			MaxFileSizeGB:  cfg.Stream.MaxFileSizeGB,
			FrameSizeBytes: int64(rawRing.ElemLen()) * 2,
			Encode:         filestream.EncodeUint16,
		})
		if err != nil {
			return fmt.Errorf("controller: build streamer: %w", err)
		}
		streamer = s
		startSeq = rawRing.Count() + int64(cfg.Stream.InitBufferOffset)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.streamCancel = cancel
	c.streamer = streamer

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := streamer.Run(streamCtx, startSeq, cmd.NFrames); err != nil {
			c.emitTelemetry("streamer_error", map[string]any{"error": err.Error()})
		}
	}()

	c.stopAcqRequested.Store(false)
	c.setState(types.StateAcquiring)
	c.emitTelemetry("state_transition", map[string]any{"state": c.State().String()})
	return nil
}

func (c *Controller) handleStopAcquisition() error {
	if c.State() != types.StateAcquiring {
		return fmt.Errorf("controller: stop_acquisition requires state ACQUIRING, got %s", c.State())
	}
	c.stopAcquisitionLocked()
	return nil
}

func (c *Controller) stopAcquisitionLocked() {
	if c.streamCancel != nil {
		c.streamCancel()
	}
	c.setState(types.StateScanning)
	c.emitTelemetry("state_transition", map[string]any{"state": c.State().String()})
}
