// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

// DefaultBufferSize is the number of live samples kept per sensor.
const DefaultBufferSize = 60

// Buffer holds a sensor series. A bounded buffer keeps the newest samples in
// arrival order and evicts the oldest first; an unbounded one keeps everything.
// Buffer is not safe for concurrent use; Subscription guards it.
type Buffer struct {
	samples  []Sample
	capacity int
}

// NewBuffer creates a buffer holding at most capacity samples. A capacity of
// zero or less means unbounded.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	b := &Buffer{capacity: capacity}
	if capacity > 0 {
		b.samples = make([]Sample, 0, capacity)
	}
	return b
}

// Capacity returns the bound, or 0 for an unbounded buffer.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Push appends a sample, evicting the oldest one if the buffer is full.
// It reports whether a sample was evicted.
func (b *Buffer) Push(s Sample) bool {
	if b.capacity > 0 && len(b.samples) >= b.capacity {
		copy(b.samples, b.samples[1:])
		b.samples[len(b.samples)-1] = s
		return true
	}
	b.samples = append(b.samples, s)
	return false
}

// Replace swaps in a new series sorted ascending by timestamp. The input is
// copied. A bounded buffer keeps only the newest capacity samples.
func (b *Buffer) Replace(samples []Sample) {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	SortSamples(sorted)

	if b.capacity > 0 && len(sorted) > b.capacity {
		sorted = sorted[len(sorted)-b.capacity:]
	}
	b.samples = sorted
}

// Samples returns a copy of the series, oldest first.
func (b *Buffer) Samples() []Sample {
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Len returns the number of samples held.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Last returns the newest sample.
func (b *Buffer) Last() (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Reset empties the buffer without changing its capacity.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}
