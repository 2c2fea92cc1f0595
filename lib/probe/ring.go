// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import "sync"

// logTailBytes is how much child output a probe retains. The excerpt
// exists to explain a failure, not to archive a session; the last few
// KiB of stderr is where crash output lives.
const logTailBytes = 4096

// tailBuffer is a fixed-size circular writer keeping the most recent
// bytes written. Safe for concurrent use — the child's stdout and
// stderr both write into it.
type tailBuffer struct {
	mutex    sync.Mutex
	data     []byte
	capacity int
	// writePosition is the next slot to write (0 to capacity-1).
	writePosition int
	// totalWritten counts all bytes ever written; the buffer holds the
	// last min(totalWritten, capacity) of them.
	totalWritten int64
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write implements io.Writer. Never fails; old bytes are overwritten
// when the buffer is full.
func (ring *tailBuffer) Write(data []byte) (int, error) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	for offset := 0; offset < len(data); {
		available := ring.capacity - ring.writePosition
		copyLength := len(data) - offset
		if copyLength > available {
			copyLength = available
		}
		copy(ring.data[ring.writePosition:ring.writePosition+copyLength], data[offset:offset+copyLength])
		ring.writePosition = (ring.writePosition + copyLength) % ring.capacity
		offset += copyLength
	}
	ring.totalWritten += int64(len(data))
	return len(data), nil
}

// Tail returns the retained bytes in write order.
func (ring *tailBuffer) Tail() []byte {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	if ring.totalWritten <= int64(ring.capacity) {
		out := make([]byte, ring.totalWritten)
		copy(out, ring.data[:ring.totalWritten])
		return out
	}
	out := make([]byte, 0, ring.capacity)
	out = append(out, ring.data[ring.writePosition:]...)
	out = append(out, ring.data[:ring.writePosition]...)
	return out
}
