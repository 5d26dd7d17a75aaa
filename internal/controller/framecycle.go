package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/sstucker/OCTview/internal/types"
)

// runFrameCycle assembles raw sub-buffers into whole frames, submits
// each to the pipeline, aggregates repeats, and publishes the result,
// for as long as the controller remains SCANNING or ACQUIRING. It
// checks the cooperative stop flag between sub-buffers so a stop_scan
// command takes effect promptly rather than waiting for an entire
// frame to finish assembling.
func (c *Controller) runFrameCycle(ctx context.Context) {
	defer c.wg.Done()

	c.mu.RLock()
	cfg := c.cfg
	pipe := c.pipe
	rawRing := c.rawRing
	procRing := c.procRing
	maskPlan := c.maskPlan
	c.mu.RUnlock()

	alinesInImage := cfg.Image.AlinesInImage()
	subBuffers := cfg.AlinesInScan / cfg.AlinesPerBuf
	collapsed := cfg.Image.AlinesPerBline * cfg.Image.BlinesPerImage

	raw := types.NewRawFrame(cfg.AlineSize, alinesInImage)
	full := types.NewProcessedFrame(alinesInImage, cfg.Processing.ROISize)
	var seq int64

	for {
		if c.stopScanRequested.Load() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		ok := c.assembleRawFrame(ctx, raw, subBuffers, cfg.AlinesPerBuf, maskPlan)
		if !ok {
			return
		}
		raw.Seq = seq
		raw.Timestamp = time.Now()

		if cfg.Processing.SubtractBackground {
			alines := make([][]uint16, alinesInImage)
			for i := range alines {
				alines[i] = raw.Aline(i)
			}
			if err := pipe.SetBackground(backgroundMean(alines)); err != nil {
				slog.Warn("controller: set background", "error", err)
			}
		}

		if err := pipe.Submit(full, raw); err != nil {
			slog.Warn("controller: pipeline busy, dropping frame", "seq", seq, "error", err)
			seq++
			continue
		}
		if err := pipe.Wait(ctx); err != nil {
			return
		}

		collapsedFrame := types.NewProcessedFrame(collapsed, cfg.Processing.ROISize)
		if err := aggregate(collapsedFrame, full, cfg.Image); err != nil {
			slog.Error("controller: repeat aggregation failed", "error", err)
			c.fail(err)
			return
		}
		collapsedFrame.Seq = seq
		collapsedFrame.Timestamp = raw.Timestamp

		if rawRing != nil {
			rawRing.Push(raw.Data)
		}
		if procRing != nil {
			procRing.Push(collapsedFrame.Data)
		}

		c.snapshots.Frame.Publish(collapsedFrame)
		c.snapshots.Spectrum.Publish(raw.Clone())

		seq++
	}
}

// assembleRawFrame fills dst with the alines_in_image subset of
// subBuffers sub-buffers of alinesPerBuf scanned A-lines each,
// selected by maskPlan's pre-compiled per-sub-buffer copy blocks.
// Returns false if the controller should stop (context cancelled or a
// fatal grabber error).
func (c *Controller) assembleRawFrame(ctx context.Context, dst *types.RawFrame, subBuffers, alinesPerBuf int, maskPlan [][]maskBlock) bool {
	for b := 0; b < subBuffers; b++ {
		if c.stopScanRequested.Load() {
			return false
		}
		got, data, err := c.grabber.ExamineBuffer(ctx, b, alinesPerBuf)
		if err != nil {
			c.fail(err)
			return false
		}
		if got != alinesPerBuf {
			slog.Warn("controller: examine_buffer delivered fewer A-lines than requested", "wanted", alinesPerBuf, "got", got)
		}
		for _, blk := range maskPlan[b] {
			srcStart := blk.srcOffset * dst.AlineSize
			dstStart := blk.dstOffset * dst.AlineSize
			wantSamples := blk.length * dst.AlineSize
			availSamples := (got - blk.srcOffset) * dst.AlineSize
			if availSamples < 0 {
				availSamples = 0
			}
			n := wantSamples
			if availSamples < n {
				n = availSamples
			}
			if n > 0 {
				copy(dst.Data[dstStart:dstStart+n], data[srcStart:srcStart+n])
			}
			for i := n; i < wantSamples; i++ {
				dst.Data[dstStart+i] = 0
			}
		}
		if err := c.grabber.ReleaseBuffer(b); err != nil {
			c.fail(err)
			return false
		}
	}
	return true
}
