// Package orec implements the ownership-record table shared by the
// eager/lazy orec cores: a fixed array of lock-or-version words, hashed to
// by address, per spec.md §3/§4.2/§4.3.
package orec

import (
	"sync/atomic"

	"github.com/mfs409/gotm/internal/platform"
)

// lockBit marks curr as a lock token rather than a version: high bit set,
// low bits the owner's descriptor slot (spec.md §3: "high bit set, low
// bits = owner slot").
const lockBit = uint64(1) << 63

// Orec is one ownership record: curr encodes either a version (high bit
// clear) or a lock token (high bit set), plus a scratch prev saved when
// the owner acquires it (spec.md §3).
type Orec struct {
	curr platform.Word
	prev uint64
	_    platform.CacheLinePad
}

// IsLocked reports whether v is a lock-token encoding.
func IsLocked(v uint64) bool { return v&lockBit != 0 }

// Owner extracts the owning descriptor slot from a lock-token encoding.
func Owner(v uint64) int { return int(v &^ lockBit) }

// Token builds the lock-token word for descriptor slot.
func Token(slot int) uint64 { return lockBit | uint64(slot) }

// Load reads curr.
func (o *Orec) Load() uint64 { return o.curr.Load() }

// TryLock CASes curr from an unlocked version <= bound to the lock token
// for slot, saving the prior version in prev. Returns false if curr was
// already a lock token (locked by self or other — caller distinguishes by
// comparing Owner(old) to slot) or if curr's version exceeds bound.
func (o *Orec) TryLock(slot int, bound uint64) (acquired bool, old uint64) {
	old = o.curr.Load()
	if IsLocked(old) {
		return false, old
	}
	if old > bound {
		return false, old
	}
	if !o.curr.CAS(old, Token(slot)) {
		return false, o.curr.Load()
	}
	atomic.StoreUint64(&o.prev, old)
	return true, old
}

// Prev returns the version saved by the most recent TryLock.
func (o *Orec) Prev() uint64 { return atomic.LoadUint64(&o.prev) }

// Release publishes newVersion, unlocking the orec (spec.md §4.2/4.3
// commit: "Publish end_time into every locked orec (release)").
func (o *Orec) Release(newVersion uint64) { o.curr.Store(newVersion) }

// ReleaseToPriorPlusOne restores curr to Prev()+1 on abort (spec.md §4.2
// Abort: "for each locked orec set o.curr = o.prev + 1"), returning the
// restored version so the caller can track the max for a clock bump.
func (o *Orec) ReleaseToPriorPlusOne() uint64 {
	v := o.Prev() + 1
	o.curr.Store(v)
	return v
}

// GRAIN is the log2 of the address-to-orec striping granularity (spec.md
// §3: addresses map to orecs by (addr >> GRAIN) mod N). It must be at
// least log2(redolog.ChunkSize): the lazy cores lock only a write's chunk
// base orec at commit, so a stripe narrower than a chunk would leave bytes
// writeback touches in other, never-locked stripes unguarded.
const GRAIN = 6

// Table is the fixed-size process-wide array of orecs and the
// address-to-orec hash over it.
type Table struct {
	orecs []Orec
}

// NewTable allocates a table of n orecs. n should be a power of two.
func NewTable(n int) *Table {
	if n <= 0 {
		n = 1 << 20
	}
	return &Table{orecs: make([]Orec, n)}
}

// For returns the orec addr maps to.
func (t *Table) For(addr uintptr) *Orec {
	idx := (addr >> GRAIN) % uintptr(len(t.orecs))
	return &t.orecs[idx]
}
