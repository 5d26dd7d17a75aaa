package filestream

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
)

// RawWriter writes each frame's encoded bytes as given, with no header
// — the layout the original streamer calls "RAW": interleaved
// little-endian float32 real/imaginary pairs from EncodeComplex64, or
// little-endian uint16 samples from EncodeUint16. It buffers writes in writeChunkSize blocks so
// the disk write granularity does not track the per-frame rate.
type RawWriter struct {
	f    *os.File
	bw   *bufio.Writer
	n    int64
}

// NewRawWriter constructs an unopened RawWriter.
func NewRawWriter() *RawWriter {
	return &RawWriter{}
}

func (w *RawWriter) Open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.bw = bufio.NewWriterSize(f, writeChunkSize)
	w.n = 0
	return nil
}

func (w *RawWriter) WriteFrame(data []byte) error {
	n, err := w.bw.Write(data)
	w.n += int64(n)
	return err
}

func (w *RawWriter) Close() error {
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			_ = w.f.Close()
			return err
		}
	}
	if w.f != nil {
		return w.f.Close()
	}
	return nil
}

func (w *RawWriter) BytesWritten() int64 { return w.n }

// EncodeComplex64 encodes a slice of complex64 as interleaved
// little-endian float32 real/imaginary pairs, the format a processed
// frame is streamed in.
func EncodeComplex64(data []complex64) []byte {
	buf := make([]byte, len(data)*8)
	for i, c := range data {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(real(c)))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(imag(c)))
	}
	return buf
}

// EncodeUint16 encodes a slice of uint16 as little-endian samples, the
// format an unprocessed raw spectrum frame is streamed in.
func EncodeUint16(data []uint16) []byte {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}
