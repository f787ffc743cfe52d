// Package logging wires log/slog with an in-memory buffer of recent
// records so the interactive shell can show them on demand.
package logging

import (
	"sync"
	"time"
)

// Record is one formatted log entry stored in the buffer.
type Record struct {
	Time  time.Time
	Level string
	Msg   string
}

// Buffer is a thread-safe circular buffer of recent log records.
type Buffer struct {
	mu    sync.RWMutex
	buf   []Record
	size  int
	head  int // next write position
	count int
}

// NewBuffer creates a buffer holding up to size records. A size below one
// is raised to one.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{buf: make([]Record, size), size: size}
}

// Add appends a record, overwriting the oldest when full.
func (b *Buffer) Add(rec Record) {
	b.mu.Lock()
	b.buf[b.head] = rec
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Last returns up to n most recent records, oldest first. n <= 0 returns
// everything buffered.
func (b *Buffer) Last(n int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]Record, 0, n)
	start := b.head - n
	if start < 0 {
		start += b.size
	}
	for i := 0; i < n; i++ {
		out = append(out, b.buf[(start+i)%b.size])
	}
	return out
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
