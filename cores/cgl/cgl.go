// Package cgl is the coarse-grained-lock core (spec.md §4.7): one mutex,
// acquired at begin and released at commit. It is the simplest core and
// can be used as a standalone fallback runtime; no other core hands a
// transaction off to it.
package cgl

import (
	"sync"
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/sysalloc"
)

// Runtime is the process-wide state: a single mutex plus, for PTM builds,
// the persistence domain writes are flushed through.
type Runtime struct {
	mu     sync.Mutex
	domain persist.Domain // nil => plain STM, no flush/fence
	sys    allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// NewRuntime returns a plain STM coarse-grained-lock runtime.
func NewRuntime() *Runtime {
	return &Runtime{sys: sysalloc.Heap{}}
}

// NewPTMRuntime returns a CGL runtime whose writes are flushed/fenced
// through domain and whose allocations come from an NVM-backed arena
// (spec.md §4.15 names both an eager and a lazy PTM protocol; CGL's
// single critical section makes the two identical — every write is
// flushed before the unlock that is this core's durable linearization
// point).
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena) *Runtime {
	return &Runtime{domain: domain, sys: arena}
}

// Tx is a CGL transaction descriptor.
type Tx struct {
	rt       *Runtime
	level    int
	locked   bool
	frame    frame.Filter
	allocMgr *alloc.Manager
	deferred deferred.Queue
}

// NewTx returns a fresh descriptor bound to rt.
func (rt *Runtime) NewTx() *Tx {
	t := &Tx{rt: rt}
	t.allocMgr = alloc.New(alloc.Basic, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Begin acquires the mutex on the outermost begin; nested begins just
// bump the nesting level (spec.md §4.1: "nesting is flat").
func (t *Tx) Begin() {
	t.level++
	if t.level > 1 {
		return
	}
	t.rt.mu.Lock()
	t.locked = true
	t.allocMgr.OnBegin()
}

// Commit always succeeds for CGL — there is no conflict to detect under a
// single mutex — so it only ever returns true. On the outermost commit it
// finalizes allocations, fences (PTM), finalizes frees, releases the
// mutex, and then runs deferred actions.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("cgl: commit without a matching begin")
	}
	t.level--
	if t.level > 0 {
		return true
	}
	t.allocMgr.CommitMallocs()
	if t.rt.domain != nil {
		t.rt.domain.Fence()
	}
	t.allocMgr.CommitFrees()
	if t.locked {
		t.rt.mu.Unlock()
		t.locked = false
	}
	t.deferred.OnCommit()
	return true
}

// Abort unwinds the outermost transaction: reclaims mallocs, discards
// frees, and releases the mutex.
func (t *Tx) Abort() {
	t.level = 0
	t.allocMgr.OnAbort()
	t.deferred.OnAbort()
	if t.locked {
		t.rt.mu.Unlock()
		t.locked = false
	}
}

// ReadRaw reads directly; under the coarse lock every in-transaction
// access is already exclusive.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	return memio.Read(addr, width)
}

// WriteRaw writes directly, then (PTM) flushes and fences the store
// before returning — CGL holds the lock through the whole transaction, so
// there is no reordering hazard in flushing eagerly rather than batching.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	memio.Write(addr, width, val)
	if t.rt.domain != nil {
		t.rt.domain.Flush(uintptr(addr), width)
		t.rt.domain.Fence()
	}
}

func (t *Tx) Alloc(size uintptr) unsafe.Pointer { return t.allocMgr.Alloc(size) }

func (t *Tx) AlignedAlloc(align, size uintptr) unsafe.Pointer {
	return t.allocMgr.AlignedAlloc(align, size)
}

func (t *Tx) Free(ptr unsafe.Pointer) { t.allocMgr.Free(ptr) }

func (t *Tx) RegisterCommitHandler(fn func(arg any), arg any) { t.deferred.Register(fn, arg) }

func (t *Tx) SetStackFrame(addr unsafe.Pointer) { t.frame.Override(uintptr(addr)) }

var _ core.Descriptor = (*Tx)(nil)
