package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte ring buffer used to smooth inbound
// microphone audio before it is handed to the transcription client.
// Writes beyond capacity are truncated, never blocked.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	count  int
	mu     sync.Mutex
}

// NewRingBuffer creates a new ring buffer holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies data into the buffer and returns the number of bytes written,
// which may be less than len(data) when the buffer fills up
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := rb.size - rb.count
	if len(data) > free {
		data = data[:free]
	}

	// At most two copies: tail segment, then wrap-around to the front
	n := copy(rb.buffer[rb.write:], data)
	if n < len(data) {
		copy(rb.buffer, data[n:])
	}
	rb.write = (rb.write + len(data)) % rb.size
	rb.count += len(data)

	return len(data)
}

// Read copies up to len(data) bytes out of the buffer and returns the number
// of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	want := len(data)
	if want > rb.count {
		want = rb.count
	}

	n := copy(data[:want], rb.buffer[rb.read:])
	if n < want {
		copy(data[n:want], rb.buffer)
	}
	rb.read = (rb.read + want) % rb.size
	rb.count -= want

	return want
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Clear drops all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
	rb.count = 0
}

// IsEmpty returns true if the buffer holds no bytes
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == 0
}

// IsFull returns true if the buffer is at capacity
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == rb.size
}
