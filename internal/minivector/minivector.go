// Package minivector is a growable typed array used by the logs and
// read/lock sets, generalizing the original's hand-written p_minivector.h
// (a template doubling the capacity when full) onto Go generics instead of
// C++ templates.
package minivector

// Vector is a slice-backed growable array with doubling growth and O(1)
// Clear (it keeps the backing array, just resets len). Commit/abort paths
// call Clear every transaction, so reusing the backing array matters: it
// is the same "fast-clear via version counter" idea the redo/undo logs use,
// just without needing a version field since nothing else aliases this
// array.
type Vector[T any] struct {
	items []T
}

// New returns an empty vector pre-sized to cap.
func New[T any](cap int) *Vector[T] {
	return &Vector[T]{items: make([]T, 0, cap)}
}

// Push appends v, growing the backing array by doubling if full.
func (v *Vector[T]) Push(item T) {
	v.items = append(v.items, item)
}

// Len returns the number of stored elements.
func (v *Vector[T]) Len() int { return len(v.items) }

// At returns the i'th element.
func (v *Vector[T]) At(i int) T { return v.items[i] }

// Set overwrites the i'th element.
func (v *Vector[T]) Set(i int, item T) { v.items[i] = item }

// Clear empties the vector without releasing its backing array.
func (v *Vector[T]) Clear() { v.items = v.items[:0] }

// Each calls fn for every element in insertion order.
func (v *Vector[T]) Each(fn func(i int, item T) bool) {
	for i, item := range v.items {
		if !fn(i, item) {
			return
		}
	}
}

// ReverseEach calls fn for every element in reverse insertion order, used
// by undo replay.
func (v *Vector[T]) ReverseEach(fn func(i int, item T) bool) {
	for i := len(v.items) - 1; i >= 0; i-- {
		if !fn(i, v.items[i]) {
			return
		}
	}
}

// Slice returns the underlying slice. Callers must not retain it across a
// Clear/Push that might reallocate.
func (v *Vector[T]) Slice() []T { return v.items }
