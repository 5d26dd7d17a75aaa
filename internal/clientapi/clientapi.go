// Package clientapi is the boundary between the controller and the
// instrument client: a bounded command queue the client enqueues
// into, state pollers, and overwrite-on-publish snapshot reads for
// the live display. There is no network surface here — per the
// device and client contract this system is built against, a client
// is always in-process.
package clientapi

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/types"
)

// Kind enumerates the commands a client may enqueue.
type Kind int

const (
	ConfigureImage Kind = iota
	ConfigureProcessing
	StartScan
	StopScan
	StartAcquisition
	StopAcquisition
)

func (k Kind) String() string {
	switch k {
	case ConfigureImage:
		return "configure_image"
	case ConfigureProcessing:
		return "configure_processing"
	case StartScan:
		return "start_scan"
	case StopScan:
		return "stop_scan"
	case StartAcquisition:
		return "start_acquisition"
	case StopAcquisition:
		return "stop_acquisition"
	default:
		return "unknown"
	}
}

// Command is one enqueued client request. Exactly one of the
// payload fields is populated, matching Kind.
type Command struct {
	ID   uuid.UUID
	Kind Kind

	Image      *config.ImageConfig
	Processing *config.ProcessingConfig
	ScanX      []float64
	ScanY      []float64
	OutputHz   float64
	Stream     *config.StreamConfig

	// NFrames is the optional frame count at which start_acquisition
	// should stop itself; 0 means unlimited, stopped only by
	// stop_acquisition.
	NFrames int64
	// SaveProcessed selects which ring start_acquisition streams to
	// disk: processed complex64 frames when true, raw uint16 spectra
	// when false.
	SaveProcessed bool

	result chan error
}

// NewCommand builds a command of the given kind with a fresh trace ID
// and a reply channel the caller can wait on via Wait.
func NewCommand(kind Kind) *Command {
	return &Command{ID: uuid.New(), Kind: kind, result: make(chan error, 1)}
}

// Wait blocks until the controller has processed the command (or ctx
// is cancelled) and returns the result it reported.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case err := <-c.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve is called by the controller once a command has been
// processed. It must be called exactly once per command.
func (c *Command) Resolve(err error) {
	c.result <- err
}

// Queue is the bounded channel the client enqueues commands into and
// the controller drains one at a time, mirroring the teacher's
// command-queue/dispatch split (an MQTT-fed channel there, an
// in-process one here).
type Queue struct {
	ch chan *Command
}

// NewQueue builds a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *Command, capacity)}
}

// Enqueue submits cmd, blocking until there is room or ctx is
// cancelled.
func (q *Queue) Enqueue(ctx context.Context, cmd *Command) error {
	select {
	case q.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue submits cmd without blocking, returning an error if the
// queue is full.
func (q *Queue) TryEnqueue(cmd *Command) error {
	select {
	case q.ch <- cmd:
		return nil
	default:
		return fmt.Errorf("clientapi: command queue full")
	}
}

// Commands exposes the receive side of the queue for the controller's
// dispatch loop.
func (q *Queue) Commands() <-chan *Command {
	return q.ch
}

// Snapshots groups the overwrite-on-publish mailboxes the controller
// publishes display-ready data into and the client polls from
// GrabFrame/GrabSpectrum.
type Snapshots struct {
	Frame    *Mailbox[*types.ProcessedFrame]
	Spectrum *Mailbox[*types.RawFrame]
}

// NewSnapshots builds an empty pair of snapshot mailboxes.
func NewSnapshots() *Snapshots {
	return &Snapshots{
		Frame:    NewMailbox[*types.ProcessedFrame](),
		Spectrum: NewMailbox[*types.RawFrame](),
	}
}

// GrabFrame returns the most recently published processed frame,
// without blocking.
func (s *Snapshots) GrabFrame() (*types.ProcessedFrame, bool) {
	return s.Frame.TryGrab()
}

// GrabSpectrum returns the most recently published raw frame, without
// blocking.
func (s *Snapshots) GrabSpectrum() (*types.RawFrame, bool) {
	return s.Spectrum.TryGrab()
}

// StateProvider is satisfied by the controller without this package
// importing it, avoiding an import cycle (the controller already
// imports clientapi for the queue and snapshots).
type StateProvider interface {
	State() types.State
}

// Client bundles the command queue, snapshot mailboxes, and state
// poller into the single handle an instrument client holds, mirroring
// the polling boundary a client is expected to drive get_state/
// is_ready/is_scanning/is_acquiring from.
type Client struct {
	Queue     *Queue
	Snapshots *Snapshots

	state StateProvider
}

// NewClient builds a Client wrapping the given queue, snapshots, and
// state provider.
func NewClient(queue *Queue, snapshots *Snapshots, state StateProvider) *Client {
	return &Client{Queue: queue, Snapshots: snapshots, state: state}
}

// GetState returns the controller's current lifecycle state.
func (c *Client) GetState() types.State {
	return c.state.State()
}

// IsReady reports whether the controller is in the READY state.
func (c *Client) IsReady() bool {
	return c.state.State() == types.StateReady
}

// IsScanning reports whether the controller is in the SCANNING state.
func (c *Client) IsScanning() bool {
	return c.state.State() == types.StateScanning
}

// IsAcquiring reports whether the controller is in the ACQUIRING state.
func (c *Client) IsAcquiring() bool {
	return c.state.State() == types.StateAcquiring
}
