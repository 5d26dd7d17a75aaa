// Package types holds the frame and A-line representations shared
// across the ring buffers, pipeline, controller, file streamer, and
// client API.
package types

import "time"

// RawFrame is one frame's worth of unprocessed spectral samples as
// delivered by the grabber, flattened to AlinesInImage*AlineSize
// consecutive uint16 samples.
type RawFrame struct {
	Seq           int64
	Timestamp     time.Time
	AlineSize     int
	AlinesInImage int
	Data          []uint16
}

// NewRawFrame allocates a RawFrame's backing storage.
func NewRawFrame(alineSize, alinesInImage int) *RawFrame {
	return &RawFrame{
		AlineSize:     alineSize,
		AlinesInImage: alinesInImage,
		Data:          make([]uint16, alineSize*alinesInImage),
	}
}

// Aline returns the i-th A-line's samples as a sub-slice of Data.
func (f *RawFrame) Aline(i int) []uint16 {
	return f.Data[i*f.AlineSize : (i+1)*f.AlineSize]
}

// Clone returns a deep copy of f, safe to publish to a reader that
// may still be holding a reference after f's backing storage is
// reused for the next frame.
func (f *RawFrame) Clone() *RawFrame {
	out := &RawFrame{
		Seq:           f.Seq,
		Timestamp:     f.Timestamp,
		AlineSize:     f.AlineSize,
		AlinesInImage: f.AlinesInImage,
		Data:          make([]uint16, len(f.Data)),
	}
	copy(out.Data, f.Data)
	return out
}

// ProcessedFrame is the depth-resolved complex output of the
// pipeline, flattened to AlinesInImage*ROISize consecutive complex64
// values, prior to any repeat aggregation collapsing AlinesInImage
// down by AlineRepeat*BlineRepeat.
type ProcessedFrame struct {
	Seq           int64
	Timestamp     time.Time
	AlinesInImage int
	ROISize       int
	Data          []complex64
}

// NewProcessedFrame allocates a ProcessedFrame's backing storage.
func NewProcessedFrame(alinesInImage, roiSize int) *ProcessedFrame {
	return &ProcessedFrame{
		AlinesInImage: alinesInImage,
		ROISize:       roiSize,
		Data:          make([]complex64, alinesInImage*roiSize),
	}
}

// Aline returns the i-th A-line's complex samples as a sub-slice of Data.
func (f *ProcessedFrame) Aline(i int) []complex64 {
	return f.Data[i*f.ROISize : (i+1)*f.ROISize]
}

// State enumerates the controller's lifecycle states.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateReady
	StateScanning
	StateAcquiring
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateReady:
		return "ready"
	case StateScanning:
		return "scanning"
	case StateAcquiring:
		return "acquiring"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
