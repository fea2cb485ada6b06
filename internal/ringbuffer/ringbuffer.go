// Package ringbuffer implements the single-producer single-consumer sample
// ring that carries audio from the real-time callback to the inference worker.
//
// Put never blocks, allocates or fails. When the ring is full the oldest
// unread sample is discarded and counted as an overrun. Get either copies a
// whole window or leaves the ring untouched.
package ringbuffer

import (
	"math"
	"math/bits"
	"sync/atomic"
)

const cacheLinePad = 64

// RingBuffer is a lossy SPSC FIFO of float32 samples with power-of-two capacity.
//
// Put must only be called by the producer and Get by the consumer. Resize and
// Clear require both sides to be quiescent.
type RingBuffer struct {
	write atomic.Uint64
	_     [cacheLinePad - 8]byte
	read  atomic.Uint64
	_     [cacheLinePad - 8]byte

	overruns atomic.Uint64
	// size mirrors len(samples) for readers that may run during Resize
	size     atomic.Uint64
	mask     uint64
	// samples hold float32 bits; atomic slots keep the overwrite race defined
	samples  []atomic.Uint32
}

// New returns a ring with capacity rounded up to the next power of two.
func New(capacity int) *RingBuffer {
	rb := &RingBuffer{}
	rb.Resize(capacity)
	return rb
}

// roundUp returns the smallest power of two >= n, minimum 1
func roundUp(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Resize reallocates storage for at least n samples and empties the ring.
func (rb *RingBuffer) Resize(n int) {
	size := roundUp(n)
	if len(rb.samples) != size {
		rb.samples = make([]atomic.Uint32, size)
		rb.mask = uint64(size - 1)
		rb.size.Store(uint64(size))
	}
	rb.Clear()
}

// Clear resets both cursors. Sample memory is left as is.
func (rb *RingBuffer) Clear() {
	rb.read.Store(0)
	rb.write.Store(0)
}

// Capacity returns the number of samples the ring can hold.
func (rb *RingBuffer) Capacity() int {
	return int(rb.size.Load())
}

// Overruns returns how many samples have been discarded since creation.
func (rb *RingBuffer) Overruns() uint64 {
	return rb.overruns.Load()
}

// Available returns the number of unread samples, capped at capacity. The
// value is a snapshot and may be stale by the time the caller acts on it.
func (rb *RingBuffer) Available() int {
	r := rb.read.Load()
	w := rb.write.Load()
	if w <= r {
		return 0
	}
	return int(min(w-r, rb.size.Load()))
}

// Put appends one sample, discarding the oldest unread sample when full.
func (rb *RingBuffer) Put(sample float32) {
	w := rb.write.Load()
	size := uint64(len(rb.samples))

	for {
		r := rb.read.Load()
		if w-r < size {
			break
		}
		// The consumer may advance read concurrently; only move it if it
		// still points at the sample about to be overwritten.
		if rb.read.CompareAndSwap(r, w-size+1) {
			rb.overruns.Add(w - size + 1 - r)
			break
		}
	}

	rb.samples[w&rb.mask].Store(math.Float32bits(sample))
	rb.write.Store(w + 1)
}

// Get copies len(dst) samples in FIFO order and consumes them. It returns
// false and leaves the ring unchanged when fewer samples are available.
func (rb *RingBuffer) Get(dst []float32) bool {
	n := uint64(len(dst))
	if n == 0 {
		return true
	}
	if n > uint64(len(rb.samples)) {
		return false
	}

	for {
		r := rb.read.Load()
		w := rb.write.Load()
		if w-r < n {
			return false
		}
		for i := range dst {
			dst[i] = math.Float32frombits(rb.samples[(r+uint64(i))&rb.mask].Load())
		}
		// A failed CAS means the producer overran the window while it was
		// being copied; retry from the new read position.
		if rb.read.CompareAndSwap(r, r+n) {
			return true
		}
	}
}
