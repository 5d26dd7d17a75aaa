// Package ringbuf implements the overwrite-tolerant single-producer
// ring buffer that hands raw and processed frames between the
// controller, the pipeline, and the file streamer.
//
// A CircBuf never blocks its producer: Push always succeeds by
// overwriting the oldest slot. Consumers that fall behind lose frames
// rather than stalling the producer. At most one consumer may hold a
// slot locked out at a time; a held slot is swapped for a spare
// buffer so the producer can keep writing into the ring without
// waiting on the consumer to finish reading.
package ringbuf

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

type slot[E any] struct {
	mu    sync.Mutex
	data  []E
	count int64 // sequence number of the push that last wrote data; -1 if never written
}

// CircBuf is a fixed-depth ring of elements of type []E. Every element
// slice has the same length, fixed at construction.
type CircBuf[E any] struct {
	size    int
	elemLen int
	slots   []*slot[E]

	pushCount atomic.Int64 // total number of successful pushes
	lockedIdx atomic.Int64 // ring index currently locked out, -1 if none

	mu     sync.Mutex
	notify chan struct{}
}

// New constructs a ring of size slots, each holding elemLen elements.
func New[E any](size, elemLen int) *CircBuf[E] {
	if size <= 0 {
		panic("ringbuf: size must be positive")
	}
	if elemLen <= 0 {
		panic("ringbuf: elemLen must be positive")
	}
	cb := &CircBuf[E]{
		size:    size,
		elemLen: elemLen,
		slots:   make([]*slot[E], size),
		notify:  make(chan struct{}),
	}
	cb.lockedIdx.Store(-1)
	for i := range cb.slots {
		cb.slots[i] = &slot[E]{data: make([]E, elemLen), count: -1}
	}
	return cb
}

// ElemLen returns the fixed length of every element in the ring.
func (cb *CircBuf[E]) ElemLen() int { return cb.elemLen }

// Size returns the ring depth.
func (cb *CircBuf[E]) Size() int { return cb.size }

// Count returns the number of elements pushed so far.
func (cb *CircBuf[E]) Count() int64 { return cb.pushCount.Load() }

func (cb *CircBuf[E]) getNotify() chan struct{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.notify
}

func (cb *CircBuf[E]) broadcast() {
	cb.mu.Lock()
	old := cb.notify
	cb.notify = make(chan struct{})
	cb.mu.Unlock()
	close(old)
}

// Push copies src into the next ring slot, overwriting the oldest
// element if the ring is full. src must have length ElemLen(). Push
// never blocks and returns the sequence number assigned to this
// element.
func (cb *CircBuf[E]) Push(src []E) int64 {
	if len(src) != cb.elemLen {
		panic(fmt.Sprintf("ringbuf: Push src length %d != elemLen %d", len(src), cb.elemLen))
	}
	n := cb.pushCount.Load()
	idx := int(n % int64(cb.size))
	s := cb.slots[idx]
	s.mu.Lock()
	copy(s.data, src)
	s.count = n
	s.mu.Unlock()
	cb.pushCount.Add(1)
	cb.broadcast()
	return n
}

// LockOutNoWait attempts to take ownership of the element with
// sequence number n without blocking. On success it returns the
// element's data (swapped for spare, which becomes the ring's new
// storage at that slot) and the actual sequence number stamped on the
// slot — which can be greater than n if the ring has wrapped past the
// requested element since it was last examined. The caller must call
// Release when done so another lock-out can proceed; Push never waits
// on a lock-out.
//
// Returns an error if another lock-out is already outstanding, or if
// the requested element has not been pushed yet.
func (cb *CircBuf[E]) LockOutNoWait(n int64, spare []E) ([]E, int64, error) {
	if len(spare) != cb.elemLen {
		panic(fmt.Sprintf("ringbuf: LockOutNoWait spare length %d != elemLen %d", len(spare), cb.elemLen))
	}
	if !cb.lockedIdx.CompareAndSwap(-1, -2) {
		return nil, 0, fmt.Errorf("ringbuf: lock-out already outstanding")
	}
	idx := int(((n % int64(cb.size)) + int64(cb.size)) % int64(cb.size))
	s := cb.slots[idx]
	s.mu.Lock()
	if s.count < n {
		s.mu.Unlock()
		cb.lockedIdx.Store(-1)
		return nil, 0, fmt.Errorf("ringbuf: element %d not yet available (have %d)", n, s.count)
	}
	data := s.data
	s.data = spare
	count := s.count
	s.mu.Unlock()
	cb.lockedIdx.Store(int64(idx))
	return data, count, nil
}

// LockOutWait behaves like LockOutNoWait but blocks until the element
// becomes available or ctx is cancelled. It is the primary entry point
// for the file streamer, which waits for its target frame rather than
// polling a spinlock.
func (cb *CircBuf[E]) LockOutWait(ctx context.Context, n int64, spare []E) ([]E, int64, error) {
	for {
		notify := cb.getNotify()
		data, count, err := cb.LockOutNoWait(n, spare)
		if err == nil {
			return data, count, nil
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-notify:
		}
	}
}

// Release relinquishes the outstanding lock-out, allowing the next
// LockOut call (from any consumer) to proceed.
func (cb *CircBuf[E]) Release() {
	cb.lockedIdx.Store(-1)
	cb.broadcast()
}

// LockOutHead grants the producer direct write access to the slot the
// next Push would occupy, for callers (the device grabber callback)
// that fill ring storage in place rather than copying from an
// intermediate buffer. The returned slice must be written in full
// before calling ReleaseHead.
func (cb *CircBuf[E]) LockOutHead() []E {
	n := cb.pushCount.Load()
	idx := int(n % int64(cb.size))
	s := cb.slots[idx]
	s.mu.Lock()
	return s.data
}

// ReleaseHead stamps and publishes the slot acquired by LockOutHead.
func (cb *CircBuf[E]) ReleaseHead() int64 {
	n := cb.pushCount.Load()
	idx := int(n % int64(cb.size))
	s := cb.slots[idx]
	s.count = n
	s.mu.Unlock()
	cb.pushCount.Add(1)
	cb.broadcast()
	return n
}

// Clear resets the ring to its empty state. Not safe to call
// concurrently with Push or an outstanding lock-out.
func (cb *CircBuf[E]) Clear() {
	cb.pushCount.Store(0)
	cb.lockedIdx.Store(-1)
	for _, s := range cb.slots {
		s.count = -1
	}
}
