// Package ring implements the bit filter and commit-filter ring the
// RingSW/RingMW cores use (spec.md §3/§4.5): a bloom filter of touched
// addresses, and a fixed-capacity circular buffer of the most recently
// committed (or pending) writers' filters, indexed by commit timestamp.
package ring

import "sync/atomic"

// FilterBits is the bloom filter size in bits; must be a power of two.
const FilterBits = 2048

const filterWords = FilterBits / 64

// Filter is a bloom filter of touched addresses.
type Filter struct {
	words [filterWords]uint64
}

func hashAddr(addr uintptr) uint {
	h := uint64(addr>>4) * 2654435761
	return uint(h) % FilterBits
}

// Add records addr's bit.
func (f *Filter) Add(addr uintptr) {
	idx := hashAddr(addr)
	f.words[idx/64] |= 1 << (idx % 64)
}

// Intersects reports whether f and o share any set bit.
func (f *Filter) Intersects(o *Filter) bool {
	for i := range f.words {
		if f.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// Clear resets every bit.
func (f *Filter) Clear() { *f = Filter{} }

// Union merges o's bits into f.
func (f *Filter) Union(o *Filter) {
	for i := range f.words {
		f.words[i] |= o.words[i]
	}
}

// CopyFrom overwrites f's bits with o's.
func (f *Filter) CopyFrom(o *Filter) { *f = *o }

// Ring is the circular buffer of committed writer filters, indexed by
// commit timestamp modulo capacity. LastInit is the highest index whose
// contents are published; LastComplete is the highest index whose
// writeback has finished. Invariant (spec.md §3): LastComplete <=
// LastInit <= clock.
type Ring struct {
	entries      []Filter
	lastInit     atomic.Uint64
	lastComplete atomic.Uint64
}

// NewRing allocates a ring with the given element capacity.
func NewRing(elements int) *Ring {
	if elements <= 0 {
		elements = 1024
	}
	return &Ring{entries: make([]Filter, elements)}
}

// Elements reports the ring's fixed capacity (RING_ELEMENTS).
func (r *Ring) Elements() int { return len(r.entries) }

// At returns the filter stored at logical index idx.
func (r *Ring) At(idx uint64) *Filter { return &r.entries[idx%uint64(len(r.entries))] }

// Publish stores f at idx and advances LastInit to idx, making the entry
// visible to readers whose start is < idx.
func (r *Ring) Publish(idx uint64, f *Filter) {
	r.entries[idx%uint64(len(r.entries))].CopyFrom(f)
	r.lastInit.Store(idx)
}

// LastInit returns the highest published index.
func (r *Ring) LastInit() uint64 { return r.lastInit.Load() }

// MarkComplete advances LastComplete to idx once that entry's writeback
// has finished.
func (r *Ring) MarkComplete(idx uint64) { r.lastComplete.Store(idx) }

// LastComplete returns the highest index whose writeback has finished.
func (r *Ring) LastComplete() uint64 { return r.lastComplete.Load() }

// Overflowed reports whether a transaction that began at start can no
// longer trust the ring at the current clock value (spec.md §3: "ring
// overflow (clock - my_start >= RING_ELEMENTS) forces abort").
func (r *Ring) Overflowed(start, clock uint64) bool {
	return clock-start >= uint64(len(r.entries))
}
