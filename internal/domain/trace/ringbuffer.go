package trace

import "sync"

// RingBuffer is a concurrency-safe fixed-size log of entries; once full the
// oldest entry is overwritten.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
}

// NewRingBuffer creates a ring buffer that holds up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 100
	}
	return &RingBuffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Add appends an entry.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Last returns up to n of the newest entries, oldest first.
func (rb *RingBuffer) Last(n int) []Entry {
	return rb.collect(n, nil)
}

// LastForScope is Last restricted to entries of one scope token.
func (rb *RingBuffer) LastForScope(n int, scope string) []Entry {
	return rb.collect(n, func(e Entry) bool { return e.Scope == scope })
}

// collect walks backwards from the newest entry so that filtering still
// yields the n most recent matches.
func (rb *RingBuffer) collect(n int, keep func(Entry) bool) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var out []Entry
	for i := 1; i <= rb.count && len(out) < n; i++ {
		e := rb.entries[(rb.head-i+rb.size)%rb.size]
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Count returns the number of entries currently stored.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
