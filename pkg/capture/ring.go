package capture

import "sync"

// Ring is a bounded FIFO. Pushing onto a full ring evicts the oldest item.
// It is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest item
	n     int
}

// NewRing creates a ring holding at most capacity items (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v. When the ring was full the evicted item is returned with
// ok set to true.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.items) {
		r.items[(r.head+r.n)%len(r.items)] = v
		r.n++
		return evicted, false
	}
	evicted = r.items[r.head]
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	return evicted, true
}

// Snapshot returns the items oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Newest returns up to limit items, newest first. limit <= 0 returns all.
func (r *Ring[T]) Newest(limit int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]T, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.items[(r.head+r.n-1-i)%len(r.items)]
	}
	return out
}

// Find returns the newest item matching fn.
func (r *Ring[T]) Find(fn func(T) bool) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := r.n - 1; i >= 0; i-- {
		v := r.items[(r.head+i)%len(r.items)]
		if fn(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear empties the ring and returns how many items were dropped.
func (r *Ring[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.n
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.n = 0, 0
	return n
}
