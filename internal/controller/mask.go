package controller

import "fmt"

// maskBlock is one contiguous run of scanned A-lines kept by the image
// mask within a single sub-buffer, paired with where that run lands in
// the image-sized staging buffer.
type maskBlock struct {
	srcOffset int // offset within the sub-buffer, in A-lines
	dstOffset int // offset within the staged image frame, in A-lines
	length    int // number of consecutive A-lines
}

// compileMaskBlocks pre-compiles an image mask into a list of
// (offset, length) copy blocks per sub-buffer, so the grab loop can
// select the alines_in_image subset out of the larger alines_in_scan
// camera scan with a handful of contiguous copies instead of a
// per-A-line branch.
//
// mask has length alinesInScan; mask[i] != 0 keeps scanned A-line i.
// A nil mask keeps the first alinesInImage scanned A-lines verbatim,
// which requires alinesInScan == alinesInImage.
func compileMaskBlocks(mask []int, alinesInScan, alinesPerBuf, alinesInImage int) ([][]maskBlock, error) {
	if alinesPerBuf <= 0 || alinesInScan%alinesPerBuf != 0 {
		return nil, fmt.Errorf("controller: alines_in_scan (%d) must be a multiple of alines_per_buffer (%d)", alinesInScan, alinesPerBuf)
	}
	if mask == nil {
		if alinesInScan != alinesInImage {
			return nil, fmt.Errorf("controller: alines_in_scan (%d) must equal alines_in_image (%d) when image_mask is not set", alinesInScan, alinesInImage)
		}
		mask = make([]int, alinesInScan)
		for i := range mask {
			mask[i] = 1
		}
	}
	if len(mask) != alinesInScan {
		return nil, fmt.Errorf("controller: image_mask length %d != alines_in_scan %d", len(mask), alinesInScan)
	}

	subBuffers := alinesInScan / alinesPerBuf
	blocks := make([][]maskBlock, subBuffers)
	dst := 0
	kept := 0
	for b := 0; b < subBuffers; b++ {
		base := b * alinesPerBuf
		var runs []maskBlock
		runStart := -1
		flush := func(end int) {
			if runStart < 0 {
				return
			}
			length := end - runStart
			runs = append(runs, maskBlock{srcOffset: runStart, dstOffset: dst, length: length})
			dst += length
			kept += length
			runStart = -1
		}
		for i := 0; i < alinesPerBuf; i++ {
			if mask[base+i] != 0 {
				if runStart < 0 {
					runStart = i
				}
			} else {
				flush(i)
			}
		}
		flush(alinesPerBuf)
		blocks[b] = runs
	}
	if kept != alinesInImage {
		return nil, fmt.Errorf("controller: image_mask selects %d A-lines, want alines_in_image %d", kept, alinesInImage)
	}
	return blocks, nil
}
