// Package epoch implements the per-thread announcement table used for
// quiescence and irrevocability (spec.md §3/§4.10).
package epoch

import (
	"sync/atomic"

	"github.com/mfs409/gotm/internal/platform"
)

// Quiescent is the sentinel announcement meaning "not inside a
// transaction".
const Quiescent = ^uint64(0)

// Table is the process-wide epoch table: one announcement slot per
// descriptor, plus the single irrevocability token.
type Table struct {
	slots       []atomic.Uint64
	irrevocable atomic.Uint32 // 0 = free, else holder slot+1
}

// NewTable allocates a table with the given number of descriptor slots,
// all initially quiescent.
func NewTable(slots int) *Table {
	t := &Table{slots: make([]atomic.Uint64, slots)}
	for i := range t.slots {
		t.slots[i].Store(Quiescent)
	}
	return t
}

// OnBegin announces start as this slot's active time.
func (t *Table) OnBegin(slot int, start uint64) { t.slots[slot].Store(start) }

// SetEpoch updates this slot's announcement, used when a core extends its
// start time mid-transaction after a validate-and-retry.
func (t *Table) SetEpoch(slot int, v uint64) { t.slots[slot].Store(v) }

// Clear announces quiescence, releasing this slot.
func (t *Table) Clear(slot int) { t.slots[slot].Store(Quiescent) }

// Quiesce waits until every slot other than self has announced either
// quiescence or a time strictly greater than at (spec.md §4.10: "waits
// until every other thread's announcement is either quiescent or > T").
func (t *Table) Quiesce(self int, at uint64) {
	for i := range t.slots {
		if i == self {
			continue
		}
		attempt := 0
		for {
			v := t.slots[i].Load()
			if v == Quiescent || v > at {
				break
			}
			platform.Spin(attempt)
			attempt++
		}
	}
}

// TryIrrevoc attempts to acquire the single process-wide irrevocability
// token for slot, then waits for every other thread to become quiescent
// (spec.md §4.10/§4.11). Returns false if the token is already held.
func (t *Table) TryIrrevoc(slot int) bool {
	if !t.irrevocable.CompareAndSwap(0, uint32(slot)+1) {
		return false
	}
	for i := range t.slots {
		if i == slot {
			continue
		}
		attempt := 0
		for t.slots[i].Load() != Quiescent {
			platform.Spin(attempt)
			attempt++
		}
	}
	return true
}

// ReleaseIrrevoc releases the token held by slot.
func (t *Table) ReleaseIrrevoc(slot int) {
	t.irrevocable.CompareAndSwap(uint32(slot)+1, 0)
}

// ExistsIrrevoc reports whether any thread currently holds the token
// (spec.md §4.10 exists_irrevoc).
func (t *Table) ExistsIrrevoc() bool { return t.irrevocable.Load() != 0 }
