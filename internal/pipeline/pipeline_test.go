package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sstucker/OCTview/internal/types"
)

func smallConfig() Config {
	return Config{
		AlineSize:     64,
		AlinesInImage: 16,
		ROIOffset:     0,
		ROISize:       20,
	}
}

func TestNewRejectsInvalidGeometry(t *testing.T) {
	cfg := smallConfig()
	cfg.AlineSize = 63
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for odd AlineSize")
	}

	cfg2 := smallConfig()
	cfg2.ROIOffset = 50
	cfg2.ROISize = 20
	if _, err := New(cfg2); err == nil {
		t.Fatal("expected error for ROI exceeding nyquist bound")
	}
}

func TestNumWorkersUsesInlineBelowThreshold(t *testing.T) {
	if w := numWorkers(512); w != 1 {
		t.Fatalf("numWorkers(512) = %d, want 1", w)
	}
	if w := numWorkers(16); w != 1 {
		t.Fatalf("numWorkers(16) = %d, want 1", w)
	}
}

func TestSubmitAndWaitProducesExpectedROILength(t *testing.T) {
	cfg := smallConfig()
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	src := types.NewRawFrame(cfg.AlineSize, cfg.AlinesInImage)
	for i := range src.Data {
		src.Data[i] = uint16(i % 4096)
	}
	dst := types.NewProcessedFrame(cfg.AlinesInImage, cfg.ROISize)

	if err := p.Submit(dst, src); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !p.IsFinished() {
		t.Fatal("expected pipeline to report finished after Wait")
	}
	if len(dst.Aline(0)) != cfg.ROISize {
		t.Fatalf("aline length = %d, want %d", len(dst.Aline(0)), cfg.ROISize)
	}
}

func TestSubmitRejectsWhileBusy(t *testing.T) {
	cfg := smallConfig()
	cfg.AlinesInImage = 4096
	cfg.ROISize = 20
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	src := types.NewRawFrame(cfg.AlineSize, cfg.AlinesInImage)
	dst := types.NewProcessedFrame(cfg.AlinesInImage, cfg.ROISize)
	if err := p.Submit(dst, src); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.Submit(dst, src); err == nil {
		t.Fatal("expected error submitting while pipeline busy")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestDCComponentIsNearZeroAfterBackgroundSubtraction(t *testing.T) {
	cfg := smallConfig()
	cfg.SubtractBackground = true
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	bg := make([]float64, cfg.AlineSize)
	for i := range bg {
		bg[i] = 1000
	}
	if err := p.SetBackground(bg); err != nil {
		t.Fatal(err)
	}

	src := types.NewRawFrame(cfg.AlineSize, cfg.AlinesInImage)
	for a := 0; a < cfg.AlinesInImage; a++ {
		aline := src.Aline(a)
		for s := range aline {
			aline[s] = 1000
		}
	}
	dst := types.NewProcessedFrame(cfg.AlinesInImage, cfg.ROISize)
	if err := p.Submit(dst, src); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	for k := 0; k < cfg.ROISize; k++ {
		c := dst.Aline(0)[k]
		if math.Abs(float64(real(c))) > 1e-6 || math.Abs(float64(imag(c))) > 1e-6 {
			t.Fatalf("expected near-zero spectrum after subtracting an identical background, got %v at bin %d", c, k)
		}
	}
}

func TestReconfigureRejectsGeometryChange(t *testing.T) {
	cfg := smallConfig()
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	bad := cfg
	bad.AlinesInImage = 32
	if err := p.Reconfigure(bad); err == nil {
		t.Fatal("expected error reconfiguring AlinesInImage")
	}
}
