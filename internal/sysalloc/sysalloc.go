// Package sysalloc supplies the two concrete "system allocators" the
// allocation manager (internal/alloc) defers to: a plain Go-heap backed
// allocator for STM builds, and a bump allocator over a persist.Region for
// PTM builds. Neither is the "general-purpose persistent heap manager"
// spec.md §1 calls a non-goal — both are the minimum needed to exercise
// the allocation manager's defer/reclaim bookkeeping.
package sysalloc

import (
	"sync"
	"unsafe"

	"github.com/mfs409/gotm/internal/persist"
)

// Heap allocates from the ordinary Go heap. Free is a no-op: Go's garbage
// collector reclaims an allocation once nothing retains its
// unsafe.Pointer, which is the actual "free" here — manual reclamation
// has no meaning over a GC heap.
type Heap struct{}

// Alloc returns size freshly zeroed bytes.
func (Heap) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	b := make([]byte, size)
	return unsafe.Pointer(&b[0])
}

// AlignedAlloc returns size bytes aligned to align, over-allocating and
// rounding up since the Go heap gives no alignment guarantee beyond the
// platform word size.
func (Heap) AlignedAlloc(align, size uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	buf := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + align - 1) &^ (align - 1)
	return unsafe.Pointer(aligned)
}

// Free is a no-op; see Heap's doc comment.
func (Heap) Free(unsafe.Pointer) {}

// Arena is a bump allocator over a persist.Region, standing in for a
// recoverable NVM allocator (spec.md §1 Non-goals: "the runtime assumes a
// recoverable allocator"). It never reclaims space — acceptable since
// this spec's scope is the transaction algorithms, not heap management.
// Its bump offset is kept in memory only and is not persisted, so a
// recovering process cannot rebuild it from the region.
type Arena struct {
	region *persist.Region
	mu     sync.Mutex
	offset uintptr
}

// NewArena wraps region as a bump allocator.
func NewArena(region *persist.Region) *Arena { return &Arena{region: region} }

const arenaAlign = 8

func align(v, a uintptr) uintptr { return (v + a - 1) &^ (a - 1) }

// Alloc bumps the arena offset by size (rounded to arenaAlign) and
// returns the resulting address within region.
func (a *Arena) Alloc(size uintptr) unsafe.Pointer {
	return a.AlignedAlloc(arenaAlign, size)
}

// AlignedAlloc bumps the arena offset to the next align boundary, then by
// size.
func (a *Arena) AlignedAlloc(alignment, size uintptr) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if alignment == 0 {
		alignment = arenaAlign
	}
	base := a.region.Base()
	start := align(base+a.offset, alignment) - base
	if start+size > uintptr(len(a.region.Bytes())) {
		panic("gotm/sysalloc: NVM arena exhausted")
	}
	a.offset = start + size
	return unsafe.Pointer(base + start)
}

// Free is a no-op; the arena never reclaims (see type doc comment).
func (a *Arena) Free(unsafe.Pointer) {}
