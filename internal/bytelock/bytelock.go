// Package bytelock implements the reader-writer byte-lock table the TLRW
// core (spec.md §4.6) uses: a writer-slot word plus a byte-per-reader
// array, so a writer can scan for active readers without an atomic
// read-modify-write per reader.
package bytelock

import "sync/atomic"

// MaxSlots bounds how many concurrent descriptor slots a bytelock can
// track readers for; it is the fixed size of each Bytelock's reader array.
const MaxSlots = 256

// Bytelock is one (writer-slot, reader-byte-array) record (spec.md §3).
type Bytelock struct {
	owner   atomic.Uint32 // 0 = free, else owning slot+1
	readers [MaxSlots]atomic.Uint32
}

// Owner returns the current writer's slot+1, or 0 if unowned.
func (b *Bytelock) Owner() uint32 { return b.owner.Load() }

// TryAcquireWriter CASes owner from free to slot+1.
func (b *Bytelock) TryAcquireWriter(slot int) bool {
	return b.owner.CompareAndSwap(0, uint32(slot)+1)
}

// ReleaseWriter clears owner.
func (b *Bytelock) ReleaseWriter() { b.owner.Store(0) }

// AnnounceReader sets this slot's reader byte.
func (b *Bytelock) AnnounceReader(slot int) { b.readers[slot].Store(1) }

// RetractReader clears this slot's reader byte.
func (b *Bytelock) RetractReader(slot int) { b.readers[slot].Store(0) }

// AnyOtherReader reports whether some slot other than except has its
// reader byte set, used by the writer path's "wait for all other
// readers[i]==0" scan (spec.md §4.6).
func (b *Bytelock) AnyOtherReader(except int) bool {
	for i := range b.readers {
		if i == except {
			continue
		}
		if b.readers[i].Load() != 0 {
			return true
		}
	}
	return false
}

// GRAIN is the address-to-bytelock striping granularity, matching orec's.
const GRAIN = 6

// Table is the process-wide array of bytelocks and its address hash.
type Table struct {
	locks []Bytelock
}

// NewTable allocates a table of n bytelocks.
func NewTable(n int) *Table {
	if n <= 0 {
		n = 1 << 16
	}
	return &Table{locks: make([]Bytelock, n)}
}

// For returns the bytelock addr maps to.
func (t *Table) For(addr uintptr) *Bytelock {
	idx := (addr >> GRAIN) % uintptr(len(t.locks))
	return &t.locks[idx]
}
