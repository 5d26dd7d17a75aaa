package device

import (
	"context"
	"fmt"
	"sync"
)

// MockGrabber is a software stand-in for the camera-link frame
// grabber, used by controller tests. Every ExamineBuffer call
// synthesizes a ramp pattern so tests can assert on pipeline output
// without real hardware.
type MockGrabber struct {
	mu           sync.Mutex
	opened       bool
	scanning     bool
	alineSize    int
	alinesInScan int
	numBuffers   int

	// DropLine, when set, makes the next ExamineBuffer call report
	// one fewer A-line than requested, simulating a missed trigger.
	DropLine bool
}

func (g *MockGrabber) Open(ctx context.Context, cameraName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cameraName == "" {
		return fmt.Errorf("mock grabber: camera name required")
	}
	g.opened = true
	return nil
}

func (g *MockGrabber) SetupBuffers(numBuffers, alineSize, alinesInScan int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.opened {
		return fmt.Errorf("mock grabber: not open")
	}
	g.numBuffers = numBuffers
	g.alineSize = alineSize
	g.alinesInScan = alinesInScan
	return nil
}

func (g *MockGrabber) StartScan() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scanning = true
	return nil
}

func (g *MockGrabber) StopScan() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scanning = false
	return nil
}

func (g *MockGrabber) ExamineBuffer(ctx context.Context, bufferIndex int, wantAlines int) (int, []uint16, error) {
	g.mu.Lock()
	drop := g.DropLine
	g.DropLine = false
	alineSize := g.alineSize
	g.mu.Unlock()

	got := wantAlines
	if drop {
		got--
	}
	data := make([]uint16, alineSize*wantAlines)
	for a := 0; a < got; a++ {
		for s := 0; s < alineSize; s++ {
			data[a*alineSize+s] = uint16((a + s) % 65536)
		}
	}
	return got, data, nil
}

func (g *MockGrabber) ReleaseBuffer(bufferIndex int) error { return nil }

func (g *MockGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened = false
	return nil
}

// MockDAC is a software stand-in for the galvo analog-output board.
type MockDAC struct {
	mu        sync.Mutex
	opened    bool
	x, y      []float64
	outputHz  float64
	startHigh bool
}

func (d *MockDAC) Open(ctx context.Context, channelX, channelY, lineTrigger, frameTrigger, startTrigger string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return nil
}

func (d *MockDAC) SetPattern(x, y []float64, outputRate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return fmt.Errorf("mock dac: not open")
	}
	if len(x) != len(y) {
		return fmt.Errorf("mock dac: x/y pattern length mismatch: %d != %d", len(x), len(y))
	}
	d.x, d.y, d.outputHz = x, y, outputRate
	return nil
}

func (d *MockDAC) DriveStartTriggerHigh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startHigh = true
	return nil
}

func (d *MockDAC) DriveStartTriggerLow() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startHigh = false
	return nil
}

func (d *MockDAC) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}
