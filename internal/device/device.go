// Package device defines the contracts the controller drives the
// camera-link frame grabber and galvo-scan DAC through, and provides
// mock implementations so the controller's state machine and frame
// cycle are testable without hardware.
package device

import "context"

// Grabber is the contract for the camera-link frame grabber. Real
// implementations wrap an opaque vendor SDK; this package only
// describes the shape the controller drives it through.
type Grabber interface {
	// Open acquires the named camera and prepares it for
	// configuration. It must be called before SetupBuffers.
	Open(ctx context.Context, cameraName string) error

	// SetupBuffers allocates numBuffers DMA ring buffers sized for
	// one physical scan of alinesInScan A-lines of alineSize samples
	// each — the full camera scan, before the image mask selects the
	// alines_in_image subset.
	SetupBuffers(numBuffers, alineSize, alinesInScan int) error

	// StartScan arms the grabber to begin delivering frames on the
	// next external line trigger.
	StartScan() error

	// StopScan halts frame delivery. Safe to call when not scanning.
	StopScan() error

	// ExamineBuffer blocks until the buffer at the given index has
	// been filled by exactly wantAlines A-lines, or ctx is cancelled.
	// It returns the number of A-lines actually delivered, which the
	// controller compares against wantAlines to detect a dropped
	// line trigger.
	ExamineBuffer(ctx context.Context, bufferIndex int, wantAlines int) (gotAlines int, data []uint16, err error)

	// ReleaseBuffer returns a buffer examined by ExamineBuffer to the
	// grabber's free list.
	ReleaseBuffer(bufferIndex int) error

	// Close releases the camera and all allocated buffers.
	Close() error
}

// ScanDAC is the contract for the analog-output board that drives the
// galvanometer scan pattern and line/frame/start trigger lines.
type ScanDAC interface {
	// Open acquires the named analog output channels.
	Open(ctx context.Context, channelX, channelY, lineTrigger, frameTrigger, startTrigger string) error

	// SetPattern loads the per-sample galvo waveform (x, y pairs) to
	// be output at outputRate samples/sec, repeating once armed.
	SetPattern(x, y []float64, outputRate float64) error

	// DriveStartTriggerHigh/Low pulse the start trigger line the
	// grabber and DAC synchronize acquisition on.
	DriveStartTriggerHigh() error
	DriveStartTriggerLow() error

	// Close releases the analog output channels.
	Close() error
}
