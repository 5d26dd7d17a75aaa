// Package filestream asynchronously drains a frame ring into rolling
// binary files on disk, tolerating dropped frames rather than ever
// blocking the pipeline that fills the ring.
package filestream

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sstucker/OCTview/internal/ringbuf"
)

const bytesPerGB = 1 << 30

// writeChunkSize is the buffered-writer size RawWriter flushes at,
// matching the original streamer's chunked-write granularity.
const writeChunkSize = 1 << 20

// Writer is the contract a file format implements to receive frames
// from a Streamer. There is presently one implementation, RawWriter;
// additional formats plug in by implementing this interface without
// touching Streamer's drain loop.
type Writer interface {
	Open(path string) error
	WriteFrame(data []byte) error
	Close() error
	BytesWritten() int64
}

// Config describes one streaming run over a ring of elements of type
// E. E is complex64 for the processed-frame path and uint16 for the
// raw unprocessed-spectra path.
type Config[E any] struct {
	Directory      string
	BaseFilename   string
	MaxFileSizeGB  float64
	FrameSizeBytes int64
	// Encode flattens one ring element (a whole frame's worth of E) to
	// the bytes a Writer receives. Required; EncodeComplex64 and
	// EncodeUint16 cover the two element types this package streams.
	Encode func(data []E) []byte
	// NewWriter constructs a fresh Writer for each file in the
	// rollover sequence. Defaults to NewRawWriter if nil.
	NewWriter func() Writer
}

// Streamer drains a ring buffer of flattened frames to disk, in
// sequence order, skipping frames that were overwritten before it
// could catch up.
type Streamer[E any] struct {
	ring             *ringbuf.CircBuf[E]
	cfg              Config[E]
	maxFramesPerFile int64

	running       atomic.Bool
	framesOut     atomic.Int64
	framesDropped atomic.Int64

	wg sync.WaitGroup
}

// New builds a Streamer over ring. cfg.Encode is required.
func New[E any](ring *ringbuf.CircBuf[E], cfg Config[E]) (*Streamer[E], error) {
	if cfg.Directory == "" || cfg.BaseFilename == "" {
		return nil, fmt.Errorf("filestream: Directory and BaseFilename are required")
	}
	if cfg.MaxFileSizeGB <= 0 {
		return nil, fmt.Errorf("filestream: MaxFileSizeGB must be positive")
	}
	if cfg.Encode == nil {
		return nil, fmt.Errorf("filestream: Encode is required")
	}
	frameSize := cfg.FrameSizeBytes
	if frameSize <= 0 {
		return nil, fmt.Errorf("filestream: FrameSizeBytes must be positive")
	}
	maxFrames := int64(cfg.MaxFileSizeGB * bytesPerGB / float64(frameSize))
	if maxFrames < 1 {
		maxFrames = 1
	}
	if cfg.NewWriter == nil {
		cfg.NewWriter = func() Writer { return NewRawWriter() }
	}
	cfg.FrameSizeBytes = frameSize
	return &Streamer[E]{ring: ring, cfg: cfg, maxFramesPerFile: maxFrames}, nil
}

// Stats reports how many frames have been written and dropped so far.
func (s *Streamer[E]) Stats() (written, dropped int64) {
	return s.framesOut.Load(), s.framesDropped.Load()
}

// Run drains the ring starting at startSeq until numToStream frames
// have been written (or forever if numToStream <= 0), stopping early
// if ctx is cancelled. It blocks until finished or stopped, so callers
// run it in its own goroutine and cancel ctx to stop early.
func (s *Streamer[E]) Run(ctx context.Context, startSeq int64, numToStream int64) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("filestream: already running")
	}
	defer s.running.Store(false)

	var writer Writer
	var fileIdx int
	var framesInFile int64
	target := startSeq
	spare := make([]E, s.ring.ElemLen())

	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	openNextFile := func() error {
		if writer != nil {
			if err := writer.Close(); err != nil {
				return fmt.Errorf("filestream: close %s: %w", s.cfg.BaseFilename, err)
			}
		}
		writer = s.cfg.NewWriter()
		path := s.rolloverPath(fileIdx)
		fileIdx++
		framesInFile = 0
		return writer.Open(path)
	}

	if err := openNextFile(); err != nil {
		return err
	}

	var written int64
	for numToStream <= 0 || written < numToStream {
		data, count, err := s.ring.LockOutWait(ctx, target, spare)
		if err != nil {
			return nil // ctx cancelled: graceful stop, not an error
		}
		// data is the buffer the ring just swapped out of the locked
		// slot; the ring won't touch it again until we hand it back
		// as spare on a later call, once we are done reading it here.
		if count != target {
			s.framesDropped.Add(1)
			slog.Warn("filestream: target frame overwritten before it could be written", "wanted", target, "have", count)
			target = count + 1
			s.ring.Release()
			spare = data
			continue
		}

		buf := s.cfg.Encode(data)
		if err := writer.WriteFrame(buf); err != nil {
			s.ring.Release()
			spare = data
			return fmt.Errorf("filestream: write frame %d: %w", count, err)
		}
		s.ring.Release()
		spare = data

		written++
		framesInFile++
		s.framesOut.Add(1)
		target = count + 1

		if framesInFile >= s.maxFramesPerFile {
			if err := openNextFile(); err != nil {
				return err
			}
		}
	}
	return nil
}

// rolloverPath names the fileIdx'th file in the rollover sequence: the
// first file (fileIdx == 0) is the bare base filename, and every file
// after a rollover gets a _NNNN suffix.
func (s *Streamer[E]) rolloverPath(fileIdx int) string {
	if fileIdx == 0 {
		return filepath.Join(s.cfg.Directory, s.cfg.BaseFilename+".bin")
	}
	name := fmt.Sprintf("%s_%04d.bin", s.cfg.BaseFilename, fileIdx)
	return filepath.Join(s.cfg.Directory, name)
}
