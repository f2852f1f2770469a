// Package ringbuffer provides a bounded mono-float sample history shared
// between exactly one capturer (writer) and one scheduler (reader).
package ringbuffer

import "sync"

// defaultCapacitySeconds bounds the buffer at roughly ten seconds of audio,
// enough to satisfy the largest correlation window the estimator requests.
const defaultCapacitySeconds = 10

// Buffer is a mutex-protected, front-trimming sample history. The mutex
// is never held across a blocking call.
type Buffer struct {
	mu         sync.Mutex
	samples    []float32
	sampleRate int
	capacity   int
}

// New creates a Buffer for the given sample rate, sized to hold
// defaultCapacitySeconds of audio.
func New(sampleRate int) *Buffer {
	return NewWithCapacity(sampleRate, sampleRate*defaultCapacitySeconds)
}

// NewWithCapacity creates a Buffer with an explicit sample capacity, for
// tests and for callers with non-default retention requirements.
func NewWithCapacity(sampleRate, capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{
		samples:    make([]float32, 0, capacity),
		sampleRate: sampleRate,
		capacity:   capacity,
	}
}

// Append adds samples to the end of the buffer, then trims from the front
// until len(samples) <= capacity. Invariant: len <= capacity after every
// call.
func (b *Buffer) Append(block []float32) {
	if len(block) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, block...)
	if excess := len(b.samples) - b.capacity; excess > 0 {
		b.samples = append(b.samples[:0], b.samples[excess:]...)
	}
}

// Snapshot copies the last n samples into a freshly allocated slice.
// It returns nil when fewer than n samples are available; callers treat
// that as "not enough data yet".
func (b *Buffer) Snapshot(n int) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.samples) < n {
		return nil
	}
	start := len(b.samples) - n
	out := make([]float32, n)
	copy(out, b.samples[start:])
	return out
}

// Len reports the number of samples currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Cap reports the configured capacity in samples.
func (b *Buffer) Cap() int {
	return b.capacity
}

// SampleRate reports the fixed sample rate recorded for this buffer's
// source. It does not change for the process lifetime.
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}
