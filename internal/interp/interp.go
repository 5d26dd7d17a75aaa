// Package interp builds and applies the wavenumber (λ→k) linearization
// plan that resamples a raw spectrum onto an evenly spaced k-axis
// before the FFT step of the pipeline.
package interp

import "fmt"

// Plan holds the per-A-line resampling table for a fixed aline size
// and interpolation depth.
type Plan struct {
	AlineSize int
	Interpdk  float64

	linearInLambda []float64
	linearInK      []float64
	left           []int
	right          []int
	dLam           float64
}

func linspace(start, end float64, num int) []float64 {
	out := make([]float64, num)
	if num == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(num-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// NewPlan builds an interpolation plan for A-lines of length alineSize
// and interpolation depth interpdk, the fractional bandwidth spread of
// the spectrometer's wavelength axis around its center. interpdk must
// be in (0, 2).
func NewPlan(alineSize int, interpdk float64) (*Plan, error) {
	if alineSize < 2 {
		return nil, fmt.Errorf("interp: alineSize must be >= 2, got %d", alineSize)
	}
	if interpdk <= 0 || interpdk >= 2 {
		return nil, fmt.Errorf("interp: interpdk must be in (0, 2), got %f", interpdk)
	}

	p := &Plan{AlineSize: alineSize, Interpdk: interpdk}

	linearInLambdaRaw := linspace(1-interpdk/2, 1+interpdk/2, alineSize)
	p.linearInLambda = make([]float64, alineSize)
	minLam := linearInLambdaRaw[0]
	maxLam := linearInLambdaRaw[0]
	for i, v := range linearInLambdaRaw {
		inv := 1 / v
		p.linearInLambda[i] = inv
		if inv < minLam {
			minLam = inv
		}
		if inv > maxLam {
			maxLam = inv
		}
	}
	p.linearInK = linspace(minLam, maxLam, alineSize)
	p.dLam = p.linearInLambda[1] - p.linearInLambda[0]

	p.left = make([]int, alineSize)
	p.right = make([]int, alineSize)
	for nn := 0; nn < alineSize; nn++ {
		switch {
		case nn == 0:
			p.left[nn], p.right[nn] = 0, 0
		case nn == alineSize-1:
			p.left[nn], p.right[nn] = alineSize-1, alineSize-1
		case p.linearInLambda[nn] >= p.linearInK[nn]:
			p.left[nn], p.right[nn] = nn-1, nn
		default:
			p.left[nn], p.right[nn] = nn, nn+1
		}
	}
	return p, nil
}

// Execute resamples one raw A-line from the λ grid onto the plan's k
// grid. It first sets src[0] to zero in place, so the caller's src is
// modified. dst and src must not
// alias: roughly half of the output samples are interpolated from
// src[nn-1], which a write to dst[nn-1] on an earlier iteration would
// have already clobbered.
func (p *Plan) Execute(dst, src []float64) error {
	if len(src) != p.AlineSize || len(dst) != p.AlineSize {
		return fmt.Errorf("interp: Execute expects length %d, got src=%d dst=%d", p.AlineSize, len(src), len(dst))
	}
	src[0] = 0
	for nn := 0; nn < p.AlineSize; nn++ {
		l, r := p.left[nn], p.right[nn]
		if l == r {
			dst[nn] = src[l]
			continue
		}
		x0 := p.linearInLambda[l]
		y0 := src[l]
		dy := src[r] - y0
		dst[nn] = y0 + (p.linearInK[nn]-x0)*(dy/p.dLam)
	}
	return nil
}

// ExecuteBatch applies Execute to numAlines consecutive A-lines packed
// into a single flat buffer.
func (p *Plan) ExecuteBatch(dst, src []float64, numAlines int) error {
	n := p.AlineSize
	if len(src) != n*numAlines || len(dst) != n*numAlines {
		return fmt.Errorf("interp: ExecuteBatch expects length %d, got src=%d dst=%d", n*numAlines, len(src), len(dst))
	}
	for i := 0; i < numAlines; i++ {
		if err := p.Execute(dst[i*n:(i+1)*n], src[i*n:(i+1)*n]); err != nil {
			return err
		}
	}
	return nil
}
