package controller

import (
	"fmt"
	"math"

	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/types"
)

// aggregate collapses repeated A-lines in src down to one effective
// A-line per scan location in dst, in two independent stages matching
// the controller's frame-cycle aggregation step: A-line repeat MEAN
// (always averaging, never configurable) followed by B-line repeat
// MEAN or DIFF, selected by cfg.RepeatMode.
//
// Within one B-line, src lays out AlinesPerBline*AlineRepeat*BlineRepeat
// raw A-lines: AlineRepeat consecutive A-lines form a repeat group (the
// A-line stage averages each group), and the resulting
// AlinesPerBline*BlineRepeat A-lines split into BlineRepeat equal
// halves of AlinesPerBline each (the B-line stage combines
// corresponding positions across halves). src must have
// cfg.AlinesInImage() A-lines; dst must have
// cfg.AlinesPerBline*cfg.BlinesPerImage.
func aggregate(dst, src *types.ProcessedFrame, cfg config.ImageConfig) error {
	alineRepeat := cfg.AlineRepeat
	if alineRepeat < 1 {
		alineRepeat = 1
	}
	blineRepeat := cfg.BlineRepeat
	if blineRepeat < 1 {
		blineRepeat = 1
	}
	if src.ROISize != dst.ROISize {
		return fmt.Errorf("controller: aggregate ROI size mismatch: src=%d dst=%d", src.ROISize, dst.ROISize)
	}
	width1 := cfg.AlinesPerBline * blineRepeat
	rawWidth := width1 * alineRepeat
	if src.AlinesInImage != rawWidth*cfg.BlinesPerImage {
		return fmt.Errorf("controller: aggregate src A-line count %d does not match %d*%d", src.AlinesInImage, rawWidth, cfg.BlinesPerImage)
	}
	collapsed := cfg.AlinesPerBline * cfg.BlinesPerImage
	if dst.AlinesInImage != collapsed {
		return fmt.Errorf("controller: aggregate dst A-line count %d != %d", dst.AlinesInImage, collapsed)
	}
	if cfg.RepeatMode == "diff" && blineRepeat != 2 {
		return fmt.Errorf("controller: aggregate diff mode requires bline_repeat 2, got %d", blineRepeat)
	}

	roi := src.ROISize
	aAccum := make([]complex64, roi)
	bAccum := make([]complex64, roi)

	// alineMean averages the alineRepeat consecutive raw A-lines
	// starting at src A-line index rawStart into out.
	alineMean := func(out []complex64, rawStart int) {
		copy(out, src.Aline(rawStart))
		if alineRepeat == 1 {
			return
		}
		for r := 1; r < alineRepeat; r++ {
			aline := src.Aline(rawStart + r)
			for k := range out {
				out[k] += aline[k]
			}
		}
		n := complex(float32(alineRepeat), 0)
		for k := range out {
			out[k] /= n
		}
	}

	for b := 0; b < cfg.BlinesPerImage; b++ {
		base := b * rawWidth
		for x := 0; x < cfg.AlinesPerBline; x++ {
			out := dst.Aline(b*cfg.AlinesPerBline + x)

			if blineRepeat == 1 {
				alineMean(out, base+x*alineRepeat)
				continue
			}

			switch cfg.RepeatMode {
			case "diff":
				alineMean(aAccum, base+x*alineRepeat)
				alineMean(bAccum, base+(cfg.AlinesPerBline+x)*alineRepeat)
				for k := range out {
					d := aAccum[k] - bAccum[k]
					out[k] = complex(
						float32(math.Abs(float64(real(d)))),
						float32(math.Abs(float64(imag(d)))),
					)
				}
			case "mean":
				alineMean(out, base+x*alineRepeat)
				for c := 1; c < blineRepeat; c++ {
					alineMean(aAccum, base+(c*cfg.AlinesPerBline+x)*alineRepeat)
					for k := range out {
						out[k] += aAccum[k]
					}
				}
				n := complex(float32(blineRepeat), 0)
				for k := range out {
					out[k] /= n
				}
			case "", "none":
				alineMean(out, base+x*alineRepeat)
			default:
				return fmt.Errorf("controller: unknown repeat mode %q", cfg.RepeatMode)
			}
		}
	}
	return nil
}
