package controller

import (
	"testing"

	"github.com/sstucker/OCTview/internal/config"
	"github.com/sstucker/OCTview/internal/types"
)

func setAline(f *types.ProcessedFrame, i int, vals []complex64) {
	copy(f.Aline(i), vals)
}

func TestAggregateAlineMeanIsIdempotentOnRepeatedIdenticalAlines(t *testing.T) {
	const roi = 3
	pattern := [][]complex64{
		{1 + 1i, 2 + 2i, 3 + 3i},
		{4 + 4i, 5 + 5i, 6 + 6i},
	}
	cfg := config.ImageConfig{
		AlinesPerBline: 2,
		BlinesPerImage: 1,
		AlineRepeat:    3,
		BlineRepeat:    1,
		RepeatMode:     "mean",
	}

	src := types.NewProcessedFrame(cfg.AlinesInImage(), roi)
	for x, vals := range pattern {
		for r := 0; r < cfg.AlineRepeat; r++ {
			setAline(src, x*cfg.AlineRepeat+r, vals)
		}
	}

	dst := types.NewProcessedFrame(cfg.AlinesPerBline*cfg.BlinesPerImage, roi)
	if err := aggregate(dst, src, cfg); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	for x, want := range pattern {
		got := dst.Aline(x)
		for k := range want {
			if got[k] != want[k] {
				t.Fatalf("aline %d sample %d = %v, want %v", x, k, got[k], want[k])
			}
		}
	}
}

func TestAggregateBlineDiffOfIdenticalHalvesIsZero(t *testing.T) {
	const roi = 4
	cfg := config.ImageConfig{
		AlinesPerBline: 8,
		BlinesPerImage: 1,
		AlineRepeat:    1,
		BlineRepeat:    2,
		RepeatMode:     "diff",
	}

	src := types.NewProcessedFrame(cfg.AlinesInImage(), roi)
	for x := 0; x < cfg.AlinesPerBline; x++ {
		vals := []complex64{complex64(complex(float32(x), float32(-x))), 1 + 1i, 2, 3i}
		setAline(src, x, vals)
		setAline(src, cfg.AlinesPerBline+x, vals)
	}

	dst := types.NewProcessedFrame(cfg.AlinesPerBline*cfg.BlinesPerImage, roi)
	if err := aggregate(dst, src, cfg); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	for x := 0; x < cfg.AlinesPerBline; x++ {
		for k, v := range dst.Aline(x) {
			if v != 0 {
				t.Fatalf("aline %d sample %d = %v, want 0", x, k, v)
			}
		}
	}
}

func TestAggregateBlineMeanAveragesAcrossRepeats(t *testing.T) {
	const roi = 2
	cfg := config.ImageConfig{
		AlinesPerBline: 2,
		BlinesPerImage: 1,
		AlineRepeat:    1,
		BlineRepeat:    2,
		RepeatMode:     "mean",
	}

	src := types.NewProcessedFrame(cfg.AlinesInImage(), roi)
	setAline(src, 0, []complex64{0, 0})
	setAline(src, 1, []complex64{10, 10})
	setAline(src, 2, []complex64{4, 2})
	setAline(src, 3, []complex64{6, 8})

	dst := types.NewProcessedFrame(cfg.AlinesPerBline*cfg.BlinesPerImage, roi)
	if err := aggregate(dst, src, cfg); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	want := [][]complex64{{2, 1}, {8, 9}}
	for x, w := range want {
		got := dst.Aline(x)
		for k := range w {
			if got[k] != w[k] {
				t.Fatalf("aline %d sample %d = %v, want %v", x, k, got[k], w[k])
			}
		}
	}
}

func TestAggregateRejectsSourceGeometryMismatch(t *testing.T) {
	cfg := config.ImageConfig{AlinesPerBline: 4, BlinesPerImage: 1, AlineRepeat: 1, BlineRepeat: 1}
	src := types.NewProcessedFrame(3, 2) // wrong count: wants 4
	dst := types.NewProcessedFrame(4, 2)
	if err := aggregate(dst, src, cfg); err == nil {
		t.Fatal("expected error for src A-line count mismatch")
	}
}

func TestCompileMaskBlocksNilMaskRequiresEqualScanAndImageCounts(t *testing.T) {
	if _, err := compileMaskBlocks(nil, 16, 8, 16); err != nil {
		t.Fatalf("compileMaskBlocks: %v", err)
	}
	if _, err := compileMaskBlocks(nil, 16, 8, 12); err == nil {
		t.Fatal("expected error when alines_in_scan != alines_in_image with no mask")
	}
}

func TestCompileMaskBlocksNilMaskKeepsEveryAline(t *testing.T) {
	blocks, err := compileMaskBlocks(nil, 16, 8, 16)
	if err != nil {
		t.Fatalf("compileMaskBlocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d sub-buffer block lists, want 2", len(blocks))
	}
	for b, runs := range blocks {
		if len(runs) != 1 {
			t.Fatalf("sub-buffer %d has %d runs, want 1", b, len(runs))
		}
		if runs[0].srcOffset != 0 || runs[0].length != 8 {
			t.Fatalf("sub-buffer %d run = %+v, want {srcOffset:0 length:8}", b, runs[0])
		}
	}
}

func TestCompileMaskBlocksRejectsLengthMismatch(t *testing.T) {
	mask := make([]int, 10) // alinesInScan is 16
	if _, err := compileMaskBlocks(mask, 16, 8, 8); err == nil {
		t.Fatal("expected error for mask length != alines_in_scan")
	}
}

func TestCompileMaskBlocksRejectsWrongSelectionCount(t *testing.T) {
	mask := make([]int, 16)
	for i := 0; i < 5; i++ {
		mask[i] = 1
	}
	if _, err := compileMaskBlocks(mask, 16, 8, 8); err == nil {
		t.Fatal("expected error when mask selects fewer A-lines than alines_in_image")
	}
}

func TestCompileMaskBlocksSelectsContiguousRunsPerSubBuffer(t *testing.T) {
	// 2 sub-buffers of 8 A-lines each; keep [0,4) from the first and
	// [8,12) from the second, 8 total selected A-lines.
	mask := make([]int, 16)
	for i := 0; i < 4; i++ {
		mask[i] = 1
	}
	for i := 8; i < 12; i++ {
		mask[i] = 1
	}

	blocks, err := compileMaskBlocks(mask, 16, 8, 8)
	if err != nil {
		t.Fatalf("compileMaskBlocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d sub-buffer block lists, want 2", len(blocks))
	}

	total := 0
	for _, runs := range blocks {
		for _, r := range runs {
			total += r.length
		}
	}
	if total != 8 {
		t.Fatalf("total selected A-lines = %d, want 8", total)
	}

	want0 := maskBlock{srcOffset: 0, dstOffset: 0, length: 4}
	if len(blocks[0]) != 1 || blocks[0][0] != want0 {
		t.Fatalf("sub-buffer 0 blocks = %+v, want [%+v]", blocks[0], want0)
	}
	want1 := maskBlock{srcOffset: 0, dstOffset: 4, length: 4}
	if len(blocks[1]) != 1 || blocks[1][0] != want1 {
		t.Fatalf("sub-buffer 1 blocks = %+v, want [%+v]", blocks[1], want1)
	}
}
