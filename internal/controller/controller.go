// Package controller implements the acquisition state machine: it
// owns the device handles, the raw and processed ring buffers, the
// processing pipeline, and the file streamer, and drives them through
// the frame-cycle algorithm in response to commands enqueued on the
// client API.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sstucker/OCTview/internal/clientapi"
	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/device"
	"github.com/sstucker/OCTview/internal/pipeline"
	"github.com/sstucker/OCTview/internal/ringbuf"
	"github.com/sstucker/OCTview/internal/telemetry"
	"github.com/sstucker/OCTview/internal/types"
)

// frameStreamer is the common Run contract both the processed-frame
// and raw-spectrum file streamers satisfy, letting the controller hold
// either without naming filestream.Streamer's element type.
type frameStreamer interface {
	Run(ctx context.Context, startSeq, numToStream int64) error
}

// Controller owns every piece of mutable state the original
// implementation kept at module/global scope: device handles, ring
// buffers, pipeline, and the state machine itself.
type Controller struct {
	mu  sync.RWMutex
	cfg *config.Config

	grabber device.Grabber
	dac     device.ScanDAC

	pipe     *pipeline.Pipeline
	rawRing  *ringbuf.CircBuf[uint16]
	procRing *ringbuf.CircBuf[complex64]
	maskPlan [][]maskBlock

	queue     *clientapi.Queue
	snapshots *clientapi.Snapshots
	telemetry *telemetry.Emitter

	streamer     frameStreamer
	streamCancel context.CancelFunc

	state   atomic.Int32
	lastErr error // guarded by mu

	stopScanRequested atomic.Bool
	stopAcqRequested  atomic.Bool

	started time.Time
	wg      sync.WaitGroup
}

// New constructs a Controller in the UNOPENED state. queue and
// snapshots must be non-nil; emitter may be nil to disable telemetry.
func New(grabber device.Grabber, dac device.ScanDAC, queue *clientapi.Queue, snapshots *clientapi.Snapshots, emitter *telemetry.Emitter) *Controller {
	c := &Controller{
		grabber:   grabber,
		dac:       dac,
		queue:     queue,
		snapshots: snapshots,
		telemetry: emitter,
	}
	c.state.Store(int32(types.StateUnopened))
	return c
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() types.State {
	return types.State(c.state.Load())
}

// LastError returns the error that most recently moved the controller
// into the ERROR state, or nil.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Controller) setState(s types.State) {
	c.state.Store(int32(s))
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(types.StateError)
	c.emitTelemetry("error", map[string]any{"error": err.Error()})
	slog.Error("controller: entering error state", "error", err)
}

func (c *Controller) emitTelemetry(kind string, fields map[string]any) {
	if c.telemetry == nil {
		return
	}
	c.telemetry.Publish(telemetry.Event{Kind: kind, Fields: fields})
}

// Open acquires the camera, the transition from UNOPENED to OPEN.
func (c *Controller) Open(ctx context.Context, cameraName string) error {
	if c.State() != types.StateUnopened {
		return fmt.Errorf("controller: Open requires state UNOPENED, got %s", c.State())
	}
	if err := c.grabber.Open(ctx, cameraName); err != nil {
		c.fail(fmt.Errorf("open grabber: %w", err))
		return err
	}
	c.started = time.Now()
	c.setState(types.StateOpen)
	c.emitTelemetry("state_transition", map[string]any{"state": c.State().String()})
	return nil
}

// Run is the controller's main loop: it drains the command queue one
// command at a time. The frame cycle runs in its own goroutine, started
// by start_scan. Run blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case cmd := <-c.queue.Commands():
			err := c.dispatch(ctx, cmd)
			cmd.Resolve(err)
		}
	}
}

func (c *Controller) shutdown() {
	if c.State() == types.StateAcquiring {
		c.stopAcquisitionLocked()
	}
	if c.State() == types.StateScanning {
		c.stopScanLocked()
	}
	if c.grabber != nil {
		_ = c.grabber.Close()
	}
	if c.dac != nil {
		_ = c.dac.Close()
	}
	c.wg.Wait()
	c.telemetry.Disconnect()
}

func (c *Controller) dispatch(ctx context.Context, cmd *clientapi.Command) error {
	switch cmd.Kind {
	case clientapi.ConfigureImage:
		return c.handleConfigureImage(cmd)
	case clientapi.ConfigureProcessing:
		return c.handleConfigureProcessing(cmd)
	case clientapi.StartScan:
		return c.handleStartScan(ctx, cmd)
	case clientapi.StopScan:
		return c.handleStopScan()
	case clientapi.StartAcquisition:
		return c.handleStartAcquisition(ctx, cmd)
	case clientapi.StopAcquisition:
		return c.handleStopAcquisition()
	default:
		return fmt.Errorf("controller: unknown command kind %v", cmd.Kind)
	}
}

// backgroundMean computes the averaged background spectrum from a
// burst of raw A-lines, using gonum's stat.Mean the way the pack's
// numeric-reconstruction code computes per-bin statistics, rather than
// a hand-rolled accumulator.
func backgroundMean(alines [][]uint16) []float64 {
	if len(alines) == 0 {
		return nil
	}
	alineSize := len(alines[0])
	out := make([]float64, alineSize)
	col := make([]float64, len(alines))
	for s := 0; s < alineSize; s++ {
		for a, aline := range alines {
			col[a] = float64(aline[s])
		}
		out[s] = stat.Mean(col, nil)
	}
	return out
}
