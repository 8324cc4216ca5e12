// Package ring implements a fixed-capacity FIFO queue backed by a circular
// buffer. Unlike a growable channel, it never blocks and never silently
// overwrites: Enqueue fails closed on a full ring and Dequeue fails closed
// on an empty one, matching the queue contract the executor depends on.
package ring

import "errors"

var (
	// ErrFull is returned by Enqueue when the ring has no free slot.
	ErrFull = errors.New("ring: full")
	// ErrEmpty is returned by Dequeue/Peek when the ring holds no elements.
	ErrEmpty = errors.New("ring: empty")
	// ErrInvalidCapacity is returned by New and Resize for capacity < 1.
	ErrInvalidCapacity = errors.New("ring: invalid capacity")
)

// allocFunc/freeFunc let a caller override the backing-slice allocator,
// mirroring ring_queue_set_memory_alloc/_free from the original C queue.
// Go slices are garbage collected, so "free" is advisory: it exists purely
// so a future allocator-backed Ring can hook in without changing the API.
var (
	allocFn func(n int) []interface{}
	freeFn  func([]interface{})
)

// SetAlloc overrides the slice allocator used by New and Resize.
func SetAlloc(fn func(n int) []interface{}) { allocFn = fn }

// SetFree overrides the release hook, which Resize calls with the old
// backing slice after replacing it.
func SetFree(fn func([]interface{})) { freeFn = fn }

// Ring is a fixed-capacity circular FIFO. The zero value is not usable;
// construct one with New. A Ring is not safe for concurrent use — callers
// that share a Ring across goroutines must serialize access with their own
// lock, which is exactly what the executor's task queue does.
type Ring[T any] struct {
	buf     []T
	head    int // index of the oldest element
	size    int // number of stored elements, 0 <= size <= cap(buf)
	destroy func(T)
}

// New creates a Ring with the given capacity (>= 1) and an optional
// destructor invoked on discarded elements from Clear, mirroring
// ring_queue_t's element_destructor.
func New[T any](capacity int, destructor func(T)) (*Ring[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Ring[T]{
		buf:     allocSlice[T](capacity),
		destroy: destructor,
	}, nil
}

func allocSlice[T any](n int) []T {
	if allocFn == nil {
		return make([]T, n)
	}
	raw := allocFn(n)
	out := make([]T, n)
	for i := 0; i < n && i < len(raw); i++ {
		if v, ok := raw[i].(T); ok {
			out[i] = v
		}
	}
	return out
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// IsEmpty reports whether the ring holds no elements.
func (r *Ring[T]) IsEmpty() bool { return r.size == 0 }

// IsFull reports whether the ring has no free slot.
func (r *Ring[T]) IsFull() bool { return r.size == len(r.buf) }

// Enqueue appends v at the tail. It returns ErrFull instead of overwriting
// the oldest element when the ring has no free slot.
func (r *Ring[T]) Enqueue(v T) error {
	if r.IsFull() {
		return ErrFull
	}
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = v
	r.size++
	return nil
}

// Dequeue removes and returns the oldest element, or ErrEmpty.
func (r *Ring[T]) Dequeue() (T, error) {
	var zero T
	if r.size == 0 {
		return zero, ErrEmpty
	}
	out := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return out, nil
}

// Peek returns the oldest element without removing it, or ErrEmpty.
func (r *Ring[T]) Peek() (T, error) {
	var zero T
	if r.size == 0 {
		return zero, ErrEmpty
	}
	return r.buf[r.head], nil
}

// Clear discards all elements, invoking the destructor (if any) on each in
// FIFO order.
func (r *Ring[T]) Clear() {
	for r.size > 0 {
		v, _ := r.Dequeue()
		if r.destroy != nil {
			r.destroy(v)
		}
	}
	r.head = 0
}

// Resize replaces the ring's capacity, preserving stored elements in order.
// It returns ErrInvalidCapacity if newCapacity is too small to hold the
// elements currently stored, or less than 1.
func (r *Ring[T]) Resize(newCapacity int) error {
	if newCapacity < 1 || newCapacity < r.size {
		return ErrInvalidCapacity
	}
	next := allocSlice[T](newCapacity)
	for i := 0; i < r.size; i++ {
		next[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	old := r.buf
	r.buf = next
	r.head = 0
	if freeFn != nil {
		boxed := make([]interface{}, len(old))
		for i, v := range old {
			boxed[i] = v
		}
		freeFn(boxed)
	}
	return nil
}
