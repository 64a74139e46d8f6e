package live

import "sync"

// RingBuffer is a fixed-capacity circular buffer of readings. Once full, each
// write drops the oldest reading.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []Reading
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer holding up to capacity readings. A
// non-positive capacity is raised to one.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]Reading, capacity),
		capacity: capacity,
	}
}

// Write appends a reading.
func (rb *RingBuffer) Write(r Reading) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = r
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// Len returns the number of readings held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.full {
		return rb.capacity
	}
	return rb.pos
}

// ReadAll returns the held readings oldest first.
func (rb *RingBuffer) ReadAll() []Reading {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		out := make([]Reading, rb.pos)
		copy(out, rb.buf[:rb.pos])
		return out
	}

	out := make([]Reading, rb.capacity)
	n := copy(out, rb.buf[rb.pos:])
	copy(out[n:], rb.buf[:rb.pos])
	return out
}
