// Package buffer holds event identifiers recorded by producers until the
// dispatch loop drains them.
//
// A single mutex guards both Append and Drain, so every appended identifier
// lands in exactly one drain, in insertion order. The buffer is unbounded:
// producers are never blocked or refused.
package buffer

import "sync"

// Buffer is a mutex-guarded ordered sequence of event identifiers.
// The zero value is ready to use.
type Buffer struct {
	mu     sync.Mutex
	events []string
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds id to the end of the buffer.
func (b *Buffer) Append(id string) {
	b.mu.Lock()
	b.events = append(b.events, id)
	b.mu.Unlock()
}

// Drain returns everything appended since the previous Drain and empties
// the buffer. The returned slice is owned by the caller and is never nil.
func (b *Buffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return []string{}
	}
	out := b.events
	b.events = nil
	return out
}

// Len returns the number of buffered identifiers.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
