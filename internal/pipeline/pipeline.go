// Package pipeline implements the parallel A-line processing stage:
// background subtraction, wavenumber linearization, apodization, a
// batched real-to-complex FFT, ROI crop, and normalization, fanned
// out across a pool of workers sized to the image's A-line count.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/sstucker/OCTview/internal/interp"
	"github.com/sstucker/OCTview/internal/types"
)

// Config describes the fixed geometry and numeric settings a Pipeline
// is built for. Changing AlineSize or AlinesInImage requires building
// a new Pipeline; the remaining fields may be updated in place via
// Reconfigure.
type Config struct {
	AlineSize     int
	AlinesInImage int

	SubtractBackground bool
	Interp              bool
	Interpdk            float64
	ApodWindow          []float64 // length AlineSize, nil => rectangular (no-op) window
	ROIOffset           int
	ROISize             int
}

func numWorkers(alinesInImage int) int {
	if alinesInImage <= 512 {
		return 1
	}
	maxW := runtime.NumCPU()
	if maxW < 1 {
		maxW = 1
	}
	for w := maxW; w > 1; w-- {
		if alinesInImage%w == 0 {
			return w
		}
	}
	return 1
}

// Pipeline owns a fixed-size worker pool that processes one frame at
// a time. Submit is not safe to call again until the prior submission
// has finished (IsFinished or Wait).
type Pipeline struct {
	alineSize     int
	alinesInImage int
	numWorkers    int
	alinesPerW    int

	mu     sync.Mutex
	cfg    Config
	plan   *interp.Plan
	apod   []float64
	roiOff int
	roiLen int

	background   []float64
	backgroundOK bool

	barrier atomic.Int32
	doneMu  sync.Mutex
	doneCh  chan struct{}

	jobs []chan job
	stop chan struct{}
	wg   sync.WaitGroup
}

type job struct {
	dst *types.ProcessedFrame
	src *types.RawFrame
}

// New builds a pipeline and starts its worker pool.
func New(cfg Config) (*Pipeline, error) {
	if cfg.AlineSize < 2 || cfg.AlineSize%2 != 0 {
		return nil, fmt.Errorf("pipeline: AlineSize must be a positive even number, got %d", cfg.AlineSize)
	}
	if cfg.AlinesInImage <= 0 {
		return nil, fmt.Errorf("pipeline: AlinesInImage must be positive, got %d", cfg.AlinesInImage)
	}
	nyquist := cfg.AlineSize/2 + 1
	if cfg.ROISize <= 0 || cfg.ROIOffset < 0 || cfg.ROIOffset+cfg.ROISize > nyquist {
		return nil, fmt.Errorf("pipeline: ROI [%d, %d) exceeds nyquist bound %d", cfg.ROIOffset, cfg.ROIOffset+cfg.ROISize, nyquist)
	}

	w := numWorkers(cfg.AlinesInImage)
	p := &Pipeline{
		alineSize:     cfg.AlineSize,
		alinesInImage: cfg.AlinesInImage,
		numWorkers:    w,
		alinesPerW:    cfg.AlinesInImage / w,
		roiOff:        cfg.ROIOffset,
		roiLen:        cfg.ROISize,
		cfg:           cfg,
		doneCh:        make(chan struct{}),
		jobs:          make([]chan job, w),
		stop:          make(chan struct{}),
	}
	close(p.doneCh) // no submission outstanding yet
	p.barrier.Store(int32(w))

	if cfg.Interp {
		plan, err := interp.NewPlan(cfg.AlineSize, cfg.Interpdk)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.plan = plan
	}
	p.apod = normalizedApod(cfg.ApodWindow, cfg.AlineSize)

	ffts := make([]*fourier.FFT, w)
	for i := range ffts {
		ffts[i] = fourier.NewFFT(cfg.AlineSize)
	}

	for i := 0; i < w; i++ {
		p.jobs[i] = make(chan job, 1)
		p.wg.Add(1)
		go p.runWorker(i, ffts[i])
	}
	return p, nil
}

func normalizedApod(window []float64, alineSize int) []float64 {
	if window == nil {
		out := make([]float64, alineSize)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	if len(window) != alineSize {
		panic(fmt.Sprintf("pipeline: apod window length %d != aline size %d", len(window), alineSize))
	}
	out := make([]float64, alineSize)
	copy(out, window)
	return out
}

// SetBackground installs an averaged background spectrum to subtract
// from every A-line when SubtractBackground is enabled. It must be
// called before the first Submit that uses background subtraction.
func (p *Pipeline) SetBackground(bg []float64) error {
	if len(bg) != p.alineSize {
		return fmt.Errorf("pipeline: background length %d != aline size %d", len(bg), p.alineSize)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.background = append([]float64(nil), bg...)
	p.backgroundOK = true
	return nil
}

// Reconfigure updates the numeric settings that do not change the
// pipeline's worker geometry (background subtraction, interpolation,
// apodization window, ROI). AlineSize and AlinesInImage are
// immutable once the pipeline is built.
func (p *Pipeline) Reconfigure(cfg Config) error {
	if cfg.AlineSize != p.alineSize || cfg.AlinesInImage != p.alinesInImage {
		return fmt.Errorf("pipeline: Reconfigure cannot change AlineSize or AlinesInImage")
	}
	nyquist := p.alineSize/2 + 1
	if cfg.ROISize <= 0 || cfg.ROIOffset < 0 || cfg.ROIOffset+cfg.ROISize > nyquist {
		return fmt.Errorf("pipeline: ROI [%d, %d) exceeds nyquist bound %d", cfg.ROIOffset, cfg.ROIOffset+cfg.ROISize, nyquist)
	}
	var plan *interp.Plan
	if cfg.Interp {
		var err error
		plan, err = interp.NewPlan(cfg.AlineSize, cfg.Interpdk)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	apod := normalizedApod(cfg.ApodWindow, cfg.AlineSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.plan = plan
	p.apod = apod
	p.roiOff = cfg.ROIOffset
	p.roiLen = cfg.ROISize
	return nil
}

// IsFinished reports whether the most recent Submit has completed.
func (p *Pipeline) IsFinished() bool {
	return p.barrier.Load() >= int32(p.numWorkers)
}

// Submit dispatches one frame's A-lines to the worker pool. It
// returns an error if a prior submission has not finished.
func (p *Pipeline) Submit(dst *types.ProcessedFrame, src *types.RawFrame) error {
	if !p.IsFinished() {
		return fmt.Errorf("pipeline: busy, prior submission has not finished")
	}
	if src.AlinesInImage != p.alinesInImage || src.AlineSize != p.alineSize {
		return fmt.Errorf("pipeline: frame geometry mismatch")
	}

	p.doneMu.Lock()
	p.barrier.Store(0)
	p.doneCh = make(chan struct{})
	p.doneMu.Unlock()

	for i := 0; i < p.numWorkers; i++ {
		p.jobs[i] <- job{dst: dst, src: src}
	}
	return nil
}

// Wait blocks until the outstanding submission finishes or ctx is
// cancelled.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.doneMu.Lock()
	ch := p.doneCh
	p.doneMu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every worker goroutine. The pipeline must not be used
// after Close.
func (p *Pipeline) Close() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pipeline) runWorker(idx int, fft *fourier.FFT) {
	defer p.wg.Done()
	start := idx * p.alinesPerW
	end := start + p.alinesPerW

	realBuf := make([]float64, p.alineSize)
	interpBuf := make([]float64, p.alineSize)
	var coefBuf []complex128

	for {
		select {
		case <-p.stop:
			return
		case j := <-p.jobs[idx]:
			p.mu.Lock()
			plan := p.plan
			apod := p.apod
			bg := p.background
			bgOK := p.backgroundOK
			subtractBG := p.cfg.SubtractBackground
			roiOff, roiLen := p.roiOff, p.roiLen
			p.mu.Unlock()

			for a := start; a < end; a++ {
				raw := j.src.Aline(a)
				for s, v := range raw {
					realBuf[s] = float64(v)
				}
				if subtractBG && bgOK {
					for s := range realBuf {
						realBuf[s] -= bg[s]
					}
				}
				fftIn := realBuf
				if plan != nil {
					if err := plan.Execute(interpBuf, realBuf); err != nil {
						// geometry was validated at Submit time; a
						// mismatch here means the plan and frame
						// disagree on aline size, which cannot
						// happen without a programming error.
						panic(err)
					}
					fftIn = interpBuf
				}
				for s := range fftIn {
					fftIn[s] *= apod[s]
				}
				coefBuf = fft.Coefficients(coefBuf, fftIn)
				dst := j.dst.Aline(a)
				norm := 1.0 / float64(p.alineSize)
				for k := 0; k < roiLen; k++ {
					c := coefBuf[roiOff+k]
					dst[k] = complex(float32(real(c)*norm), float32(imag(c)*norm))
				}
			}

			if p.barrier.Add(1) == int32(p.numWorkers) {
				p.doneMu.Lock()
				close(p.doneCh)
				p.doneMu.Unlock()
			}
		}
	}
}
