package filestream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sstucker/OCTview/internal/ringbuf"
)

func TestRawWriterRoundTripsBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bin")
	w := NewRawWriter()
	if err := w.Open(path); err != nil {
		t.Fatal(err)
	}
	data := EncodeComplex64([]complex64{1 + 2i, 3 + 4i})
	if err := w.WriteFrame(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 16 {
		t.Fatalf("len(got) = %d, want 16", len(got))
	}
}

func TestStreamerWritesFramesInOrder(t *testing.T) {
	dir := t.TempDir()
	ring := ringbuf.New[complex64](8, 4)
	s, err := New(ring, Config[complex64]{
		Directory:      dir,
		BaseFilename:   "run",
		MaxFileSizeGB:  1,
		FrameSizeBytes: 32,
		Encode:         EncodeComplex64,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 0, 5) }()

	for i := 0; i < 5; i++ {
		ring.Push([]complex64{complex64(complex(float64(i), 0)), 0, 0, 0})
	}

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	written, dropped := s.Stats()
	if written != 5 {
		t.Fatalf("written = %d, want 5", written)
	}
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}
}

func TestStreamerRollsOverAtFileSizeLimit(t *testing.T) {
	dir := t.TempDir()
	ring := ringbuf.New[complex64](8, 4) // 4 complex64 = 32 bytes/frame
	s, err := New(ring, Config[complex64]{
		Directory:      dir,
		BaseFilename:   "run",
		MaxFileSizeGB:  1,
		FrameSizeBytes: 32,
		Encode:         EncodeComplex64,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.maxFramesPerFile = 2 // force rollover after 2 frames for the test

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 0, 5) }()

	for i := 0; i < 5; i++ {
		ring.Push(make([]complex64, 4))
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 3 {
		t.Fatalf("expected at least 3 rolled-over files for 5 frames at 2/file, got %d", len(entries))
	}
}

func TestStreamerDropsAndSnapsForwardWhenOverwritten(t *testing.T) {
	dir := t.TempDir()
	ring := ringbuf.New[complex64](2, 2) // tiny ring: easy to overwrite unread slots
	s, err := New(ring, Config[complex64]{
		Directory:      dir,
		BaseFilename:   "run",
		MaxFileSizeGB:  1,
		FrameSizeBytes: 16,
		Encode:         EncodeComplex64,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Push far more than the ring holds before the streamer starts,
	// so its initial target (0) has already been overwritten.
	for i := 0; i < 10; i++ {
		ring.Push([]complex64{complex64(complex(float64(i), 0)), 0})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx, 0, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, dropped := s.Stats()
	if dropped == 0 {
		t.Fatal("expected at least one dropped frame when starting behind an already-overwritten ring")
	}
}
