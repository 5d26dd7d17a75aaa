// Package config loads, validates, and hot-reloads the instrument's
// YAML configuration document.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ImageConfig describes the geometry of one acquired image: how many
// A-lines make up a B-line, how many B-lines make up the image, and
// how repeated A-lines/B-lines within it are aggregated.
type ImageConfig struct {
	AlinesPerBline int    `yaml:"alines_per_bline"`
	BlinesPerImage int    `yaml:"blines_per_image"`
	AlineRepeat    int    `yaml:"aline_repeat"`
	BlineRepeat    int    `yaml:"bline_repeat"`
	RepeatMode     string `yaml:"repeat_mode"` // "none", "mean", "diff"
	ImageMask      []int  `yaml:"image_mask"`  // optional, length alines_in_scan
}

// AlinesInImage is AlinesPerBline*BlinesPerImage*AlineRepeat*BlineRepeat,
// the number of raw A-lines the controller must assemble per frame
// before handing it to the pipeline.
func (c ImageConfig) AlinesInImage() int {
	return c.AlinesPerBline * c.BlinesPerImage * c.AlineRepeat * c.BlineRepeat
}

// ProcessingConfig describes the numeric transform applied to each
// A-line by the pipeline.
type ProcessingConfig struct {
	SubtractBackground bool    `yaml:"subtract_background"`
	Interp             bool    `yaml:"interp"`
	Interpdk           float64 `yaml:"interpdk"`
	ApodWindowFile     string  `yaml:"apod_window_file"` // optional; rectangular (all-ones) window used if empty
	ROIOffset          int     `yaml:"roi_offset"`
	ROISize            int     `yaml:"roi_size"`
	NFrameAvg          int     `yaml:"n_frame_avg"`
}

// ScanConfig describes the galvo drive pattern the controller hands
// to the DAC.
type ScanConfig struct {
	DACOutputRate   float64 `yaml:"dac_output_rate"`
	AOChannelX      string  `yaml:"ao_channel_x"`
	AOChannelY      string  `yaml:"ao_channel_y"`
	AOChannelLineTr string  `yaml:"ao_channel_line_trigger"`
	AOChannelFrmTr  string  `yaml:"ao_channel_frame_trigger"`
	AOChannelStart  string  `yaml:"ao_channel_start_trigger"`
}

// StreamConfig describes the continuous disk streaming path.
type StreamConfig struct {
	Directory        string  `yaml:"directory"`
	BaseFilename     string  `yaml:"base_filename"`
	MaxFileSizeGB    float64 `yaml:"max_file_size_gb"`
	FramesToBuffer   int     `yaml:"frames_to_buffer"`
	InitBufferOffset int     `yaml:"init_buffer_offset"`
}

// TelemetryConfig gates the optional MQTT diagnostics emitter.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// Config is the full instrument configuration document.
type Config struct {
	CameraName      string           `yaml:"camera_name"`
	AlineSize       int              `yaml:"aline_size"`
	AlinesInScan    int              `yaml:"alines_in_scan"`
	AlinesPerBuf    int              `yaml:"alines_per_buffer"`
	NumberOfBuffers int              `yaml:"number_of_buffers"`
	Image           ImageConfig      `yaml:"image"`
	Processing      ProcessingConfig `yaml:"processing"`
	Scan            ScanConfig       `yaml:"scan"`
	Stream          StreamConfig     `yaml:"stream"`
	Telemetry       TelemetryConfig  `yaml:"telemetry"`
}

// Load reads and parses a YAML configuration document and validates
// it before returning.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadApodWindow reads the apodization window file referenced by a
// ProcessingConfig (a JSON array of alineSize float64 samples) and
// returns it. An empty path returns a nil window, telling the
// pipeline to fall back to its rectangular (all-ones) window.
func LoadApodWindow(path string, alineSize int) ([]float64, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read apod window %s: %w", path, err)
	}
	var window []float64
	if err := json.Unmarshal(raw, &window); err != nil {
		return nil, fmt.Errorf("config: parse apod window %s: %w", path, err)
	}
	if len(window) != alineSize {
		return nil, fmt.Errorf("config: apod window %s has length %d, want %d", path, len(window), alineSize)
	}
	return window, nil
}
