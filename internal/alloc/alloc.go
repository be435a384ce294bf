// Package alloc implements the allocation manager (spec.md §4.12): defers
// free until commit, reclaims transaction-local mallocs on abort, and
// (for two of its three variants) tracks the most recent allocation as
// "captured memory" so accesses to it can skip read/write instrumentation
// entirely.
package alloc

import (
	"unsafe"

	"github.com/mfs409/gotm/internal/persist"
)

// Variant selects one of the three build-time allocation manager flavors
// of spec.md §4.12.
type Variant int

const (
	// Basic supports neither captured memory nor any PTM flush hinting.
	Basic Variant = iota
	// Enhanced tracks the last allocation as captured and defers flushing
	// every malloc'd range to Precommit.
	Enhanced
	// NaiveCapturing tracks the last allocation as captured but flushes
	// on every captured write instead of batching at precommit.
	NaiveCapturing
)

type region struct {
	ptr  unsafe.Pointer
	size uintptr
}

// Manager is a per-descriptor allocation manager.
type Manager struct {
	variant      Variant
	alloc        func(size uintptr) unsafe.Pointer
	alignedAlloc func(align, size uintptr) unsafe.Pointer
	free         func(ptr unsafe.Pointer)

	active    bool
	mallocs   []region
	frees     []unsafe.Pointer
	lastAlloc region
	hasLast   bool
}

// New returns a manager of the given variant, delegating real allocation
// and release to alloc/free (the "system allocator... assumed
// thread-safe" of spec.md §5).
func New(variant Variant, allocFn func(uintptr) unsafe.Pointer, freeFn func(unsafe.Pointer)) *Manager {
	return &Manager{variant: variant, alloc: allocFn, free: freeFn}
}

// WithAlignedAlloc attaches an aligned-allocation function, used by
// AlignedAlloc; New alone is enough for callers that never need it.
func (m *Manager) WithAlignedAlloc(fn func(align, size uintptr) unsafe.Pointer) *Manager {
	m.alignedAlloc = fn
	return m
}

// OnBegin activates log-and-defer mode for a new outer transaction
// (spec.md §4.1 step 2).
func (m *Manager) OnBegin() {
	m.active = true
	m.mallocs = m.mallocs[:0]
	m.frees = m.frees[:0]
	m.hasLast = false
}

// Alloc calls the system allocator, records the result, and — for the two
// capturing variants — remembers it as the last allocation (spec.md
// §4.12).
func (m *Manager) Alloc(size uintptr) unsafe.Pointer {
	p := m.alloc(size)
	r := region{ptr: p, size: size}
	m.mallocs = append(m.mallocs, r)
	if m.variant != Basic {
		m.lastAlloc = r
		m.hasLast = true
	}
	return p
}

// AlignedAlloc is Alloc's aligned counterpart, using the function
// attached via WithAlignedAlloc.
func (m *Manager) AlignedAlloc(alignment, size uintptr) unsafe.Pointer {
	if m.alignedAlloc == nil {
		return m.Alloc(size)
	}
	p := m.alignedAlloc(alignment, size)
	r := region{ptr: p, size: size}
	m.mallocs = append(m.mallocs, r)
	if m.variant != Basic {
		m.lastAlloc = r
		m.hasLast = true
	}
	return p
}

// Free defers to the free list while a transaction is active, otherwise
// frees immediately (spec.md §4.12).
func (m *Manager) Free(p unsafe.Pointer) {
	if m.active {
		m.frees = append(m.frees, p)
		return
	}
	m.free(p)
}

// IsCaptured reports whether addr falls within the last allocation, for
// the capturing variants' fast path (spec.md §4.1: "the allocation
// manager's 'captured memory' check").
func (m *Manager) IsCaptured(addr uintptr) bool {
	if m.variant == Basic || !m.hasLast {
		return false
	}
	base := uintptr(m.lastAlloc.ptr)
	return addr >= base && addr < base+m.lastAlloc.size
}

// OnAbort frees every malloc'd entry and drops the free list (spec.md
// §4.12 on_abort).
func (m *Manager) OnAbort() {
	for _, r := range m.mallocs {
		m.free(r.ptr)
	}
	m.mallocs = m.mallocs[:0]
	m.frees = m.frees[:0]
	m.active = false
	m.hasLast = false
}

// CommitMallocs finalizes the malloc list at the durable linearization
// point; for a non-PTM build this is a no-op (the allocator already
// committed the memory), kept as a separate step so PTM cores can call it
// before releasing locks per spec.md §4.15.
func (m *Manager) CommitMallocs() {
	m.mallocs = m.mallocs[:0]
}

// CommitFrees finalizes the deferred free list; PTM cores must call this
// after quiescence (spec.md §4.12/§4.15).
func (m *Manager) CommitFrees() {
	for _, p := range m.frees {
		m.free(p)
	}
	m.frees = m.frees[:0]
	m.active = false
}

// Precommit flushes captured-memory ranges for the Enhanced variant and
// reports whether a fence is needed afterward (spec.md §4.12 precommit /
// §4.15 step 1 "p_precommit"). Basic and NaiveCapturing need no batched
// flush here: Basic has nothing captured, and NaiveCapturing already
// flushed each captured write as it happened.
func (m *Manager) Precommit(domain persist.Domain) (fenceNeeded bool) {
	if m.variant != Enhanced || domain == nil {
		return false
	}
	for _, r := range m.mallocs {
		domain.Flush(uintptr(r.ptr), r.size)
	}
	return len(m.mallocs) > 0
}

// OnCapturedWrite is called after every write to captured memory; the
// NaiveCapturing variant flushes immediately, matching its name (spec.md
// §4.12 table).
func (m *Manager) OnCapturedWrite(domain persist.Domain, addr uintptr, width uintptr) {
	if m.variant == NaiveCapturing && domain != nil {
		domain.Flush(addr, width)
	}
}
