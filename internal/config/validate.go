package config

import "fmt"

// ApplyDefaults fills unset fields with the instrument's conventional
// defaults, mirroring the teacher's pattern of defaulting rather than
// requiring every field in the document.
func ApplyDefaults(cfg *Config) {
	if cfg.NumberOfBuffers == 0 {
		cfg.NumberOfBuffers = 4
	}
	if cfg.Image.AlineRepeat == 0 {
		cfg.Image.AlineRepeat = 1
	}
	if cfg.Image.BlineRepeat == 0 {
		cfg.Image.BlineRepeat = 1
	}
	if cfg.Image.RepeatMode == "" {
		cfg.Image.RepeatMode = "mean"
	}
	if cfg.Processing.NFrameAvg == 0 {
		cfg.Processing.NFrameAvg = 1
	}
	if cfg.Stream.FramesToBuffer == 0 {
		cfg.Stream.FramesToBuffer = 8
	}
	if cfg.Stream.MaxFileSizeGB == 0 {
		cfg.Stream.MaxFileSizeGB = 4
	}
	if cfg.Stream.BaseFilename == "" {
		cfg.Stream.BaseFilename = "acquisition"
	}
}

// Validate checks that a Config describes a geometrically and
// numerically consistent acquisition, returning the first violation
// found.
func Validate(cfg *Config) error {
	if cfg.AlineSize < 2 {
		return fmt.Errorf("aline_size must be >= 2, got %d", cfg.AlineSize)
	}
	if cfg.AlineSize%2 != 0 {
		return fmt.Errorf("aline_size must be even (real FFT input), got %d", cfg.AlineSize)
	}
	if cfg.Image.AlinesPerBline <= 0 {
		return fmt.Errorf("image.alines_per_bline must be positive, got %d", cfg.Image.AlinesPerBline)
	}
	if cfg.Image.BlinesPerImage <= 0 {
		return fmt.Errorf("image.blines_per_image must be positive, got %d", cfg.Image.BlinesPerImage)
	}
	if cfg.Image.AlineRepeat <= 0 || cfg.Image.BlineRepeat <= 0 {
		return fmt.Errorf("image.aline_repeat and image.bline_repeat must be positive")
	}
	switch cfg.Image.RepeatMode {
	case "none", "mean", "diff":
	default:
		return fmt.Errorf("image.repeat_mode must be none, mean, or diff, got %q", cfg.Image.RepeatMode)
	}
	if cfg.Image.RepeatMode == "diff" && cfg.Image.BlineRepeat != 2 {
		return fmt.Errorf("image.repeat_mode diff requires image.bline_repeat == 2, got %d", cfg.Image.BlineRepeat)
	}
	alinesInImage := cfg.Image.AlinesInImage()
	if cfg.AlinesPerBuf <= 0 {
		return fmt.Errorf("alines_per_buffer must be positive, got %d", cfg.AlinesPerBuf)
	}
	if cfg.AlinesInScan <= 0 {
		return fmt.Errorf("alines_in_scan must be positive, got %d", cfg.AlinesInScan)
	}
	if cfg.AlinesInScan%cfg.AlinesPerBuf != 0 {
		return fmt.Errorf("alines_in_scan (%d) must be a multiple of alines_per_buffer (%d)", cfg.AlinesInScan, cfg.AlinesPerBuf)
	}
	if cfg.Image.ImageMask == nil {
		if cfg.AlinesInScan != alinesInImage {
			return fmt.Errorf("alines_in_scan (%d) must equal alines_in_image (%d) when image.image_mask is not set", cfg.AlinesInScan, alinesInImage)
		}
	} else {
		if len(cfg.Image.ImageMask) != cfg.AlinesInScan {
			return fmt.Errorf("image.image_mask length %d != alines_in_scan %d", len(cfg.Image.ImageMask), cfg.AlinesInScan)
		}
		kept := 0
		for _, v := range cfg.Image.ImageMask {
			if v != 0 {
				kept++
			}
		}
		if kept != alinesInImage {
			return fmt.Errorf("image.image_mask selects %d A-lines, want alines_in_image %d", kept, alinesInImage)
		}
	}
	if alinesInImage%cfg.Image.AlinesPerBline != 0 {
		return fmt.Errorf("alines_in_image (%d) must be a multiple of alines_per_bline (%d)", alinesInImage, cfg.Image.AlinesPerBline)
	}
	nyquist := cfg.AlineSize/2 + 1
	if cfg.Processing.ROISize <= 0 {
		return fmt.Errorf("processing.roi_size must be positive, got %d", cfg.Processing.ROISize)
	}
	if cfg.Processing.ROIOffset < 0 || cfg.Processing.ROIOffset+cfg.Processing.ROISize > nyquist {
		return fmt.Errorf("processing.roi_offset+roi_size (%d) exceeds aline_size/2+1 (%d)", cfg.Processing.ROIOffset+cfg.Processing.ROISize, nyquist)
	}
	if cfg.Processing.Interp {
		if cfg.Processing.Interpdk <= 0 || cfg.Processing.Interpdk >= 2 {
			return fmt.Errorf("processing.interpdk must be in (0, 2) when interp is enabled, got %f", cfg.Processing.Interpdk)
		}
	}
	if cfg.Processing.NFrameAvg < 1 {
		return fmt.Errorf("processing.n_frame_avg must be >= 1, got %d", cfg.Processing.NFrameAvg)
	}
	if cfg.NumberOfBuffers < 2 {
		return fmt.Errorf("number_of_buffers must be >= 2, got %d", cfg.NumberOfBuffers)
	}
	if cfg.Stream.FramesToBuffer < 2 {
		return fmt.Errorf("stream.frames_to_buffer must be >= 2, got %d", cfg.Stream.FramesToBuffer)
	}
	return nil
}

// ValidateHotReload checks that next differs from current only in
// fields the controller can apply without tearing down the ring
// buffers (background/interp/apodization/repeat settings), returning
// an error if a structural field (aline size, image geometry, buffer
// depth, ROI size) has changed.
func ValidateHotReload(current, next *Config) error {
	if next.AlineSize != current.AlineSize {
		return fmt.Errorf("aline_size cannot be hot-reloaded (requires reconfigure_image while stopped)")
	}
	if next.Image.AlinesInImage() != current.Image.AlinesInImage() {
		return fmt.Errorf("image geometry cannot be hot-reloaded (requires reconfigure_image while stopped)")
	}
	if next.AlinesPerBuf != current.AlinesPerBuf || next.NumberOfBuffers != current.NumberOfBuffers {
		return fmt.Errorf("buffer geometry cannot be hot-reloaded (requires reconfigure_image while stopped)")
	}
	if next.Processing.ROISize != current.Processing.ROISize {
		return fmt.Errorf("processing.roi_size cannot be hot-reloaded (it sizes the processed ring; requires reconfigure_image while stopped)")
	}
	return Validate(next)
}
