// Package history keeps the most recent encoded frames so they can be fetched by age.
package history

import "sync"

// Capacity is the number of frames a Buffer retains.
const Capacity = 31

// Buffer is a fixed-size ring of encoded frames. Index 0 is the newest frame and
// Capacity-1 the oldest still retained.
type Buffer struct {
	mu    sync.Mutex
	slots [Capacity][]byte
	next  int
	count int
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push stores a copy of frame as the newest entry, evicting the oldest when full.
func (b *Buffer) Push(frame []byte) {
	data := make([]byte, len(frame))
	copy(data, frame)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[b.next] = data
	b.next = (b.next + 1) % Capacity
	if b.count < Capacity {
		b.count++
	}
}

// Get returns a copy of the frame i pushes ago. ok is false when no such frame is held.
func (b *Buffer) Get(i int) (frame []byte, ok bool) {
	if i < 0 || i >= Capacity {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= b.count {
		return nil, false
	}
	data := b.slots[b.slot(i)]
	if len(data) == 0 {
		return nil, false
	}
	frame = make([]byte, len(data))
	copy(frame, data)
	return frame, true
}

// Len returns the number of frames held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer) slot(i int) int {
	return (b.next - 1 - i + 2*Capacity) % Capacity
}
