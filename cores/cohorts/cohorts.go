// Package cohorts is the phased-commit core of spec.md §4.8, grounded
// directly on original_source's cohorts.h: validation uses values, not a
// lock table; writes are redo-logged and applied out of place; and
// transactions commit in batches ("cohorts") so that once a cohort is
// sealed its members commit one after another with no possibility of
// aborting each other, which is what lets every member skip fences until
// its own turn. Cohorts does not support irrevocability (same as the
// original: a thread that needs it has nowhere to go).
package cohorts

import (
	"sync/atomic"
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/platform"
	"github.com/mfs409/gotm/internal/redolog"
	"github.com/mfs409/gotm/internal/sysalloc"
	"github.com/mfs409/gotm/internal/vlog"
)

// Runtime is the process-wide cohorts substrate: the three counters the
// original calls STARTED/SEALED/FINISHED.
type Runtime struct {
	started  atomic.Uint64
	sealed   atomic.Uint64
	finished atomic.Uint64
	_        platform.CacheLinePad

	domain persist.Domain
	sys    allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// NewRuntime returns a plain STM cohorts runtime.
func NewRuntime() *Runtime { return &Runtime{sys: sysalloc.Heap{}} }

// NewPTMRuntime returns a cohorts runtime driving the lazy PTM protocol.
// Because a sealed cohort's members commit strictly in order with no
// interleaved aborts, flushing each member's writeback before letting the
// next member proceed is enough to keep persistence consistent with the
// commit order, without any per-write fence.
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena) *Runtime {
	return &Runtime{domain: domain, sys: arena}
}

// Tx is a cohorts transaction descriptor.
type Tx struct {
	rt *Runtime

	level        int
	startTime    uint64
	joined       bool
	redo         *redolog.Log
	reads        *vlog.Log
	frame        frame.Filter
	allocMgr     *alloc.Manager
	deferredActs deferred.Queue
}

// NewTx returns a fresh descriptor bound to rt.
func (rt *Runtime) NewTx() *Tx {
	t := &Tx{rt: rt, redo: redolog.New(), reads: vlog.New()}
	t.allocMgr = alloc.New(alloc.Enhanced, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Begin enters the current cohort, or waits for one to open if the
// current one is sealed — a direct port of the original's beginTx loop.
func (t *Tx) Begin() {
	t.level++
	if t.level > 1 {
		return
	}
	t.allocMgr.OnBegin()
	var mark byte
	t.frame.SetBottom(uintptr(unsafe.Pointer(&mark)))
	attempt := 0
	for {
		t.rt.started.Add(1)
		if t.rt.sealed.Load() == t.rt.finished.Load() {
			break
		}
		t.rt.started.Add(^uint64(0)) // -1
		for t.rt.sealed.Load() != t.rt.finished.Load() {
			platform.Spin(attempt)
			attempt++
		}
	}
	t.startTime = t.rt.finished.Load()
	t.joined = true
}

// ReadRaw implements spec.md §4.8 Read: own buffered writes are visible
// immediately; otherwise read memory, record the observed value for
// commit-time validation, and reconstruct from any partial redo hit.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	a := uintptr(addr)
	if t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		return memio.Read(addr, width)
	}
	memVal := memio.Read(addr, width)
	v, _, full := t.redo.Lookup(addr, width, memVal)
	if full {
		return v
	}
	t.reads.Record(addr, width, memVal)
	return v
}

// WriteRaw implements spec.md §4.8 Write: buffer into the redo log,
// exactly like every other lazy core.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	a := uintptr(addr)
	if t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		memio.Write(addr, width, val)
		return
	}
	t.redo.Insert(addr, width, val)
}

// Commit implements spec.md §4.8 Commit, a direct port of the original's
// commitTx: a read-only fast path that needs no ordering at all, then —
// for writers — sealing the cohort, waiting for one's turn, validating
// (skipped entirely for the cohort's first committer), writing back, and
// finally a lightweight quiesce before any freed memory is reclaimed.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("cohorts: commit without a matching begin")
	}
	t.level--
	if t.level > 0 {
		return true
	}

	hasWrites := false
	t.redo.Chunks(func(uintptr) { hasWrites = true })
	if !hasWrites {
		t.rt.started.Add(^uint64(0))
		t.joined = false
		t.reads.Clear()
		t.allocMgr.CommitMallocs()
		t.allocMgr.CommitFrees()
		t.deferredActs.OnCommit()
		t.clearLogs()
		return true
	}

	myOrder := t.rt.sealed.Add(1) - 1
	t.rt.started.Add(^uint64(0))
	t.joined = false
	attempt := 0
	for t.rt.started.Load() != 0 {
		platform.Spin(attempt)
		attempt++
	}
	sealSnap := t.rt.sealed.Load()
	attempt = 0
	for t.rt.finished.Load() < myOrder {
		platform.Spin(attempt)
		attempt++
	}

	committed := myOrder == t.startTime || t.reads.Validate(memio.Read)
	if committed {
		t.redo.Writeback(
			func(addr uintptr, b byte) { memio.WriteByte(addr, b) },
			func(addr uintptr, n uintptr) {
				if t.rt.domain != nil {
					t.rt.domain.Flush(addr, n)
				}
			},
		)
		if t.rt.domain != nil {
			t.rt.domain.Fence()
		}
	}
	t.rt.finished.Add(1)
	t.reads.Clear()
	t.redo.Clear()

	attempt = 0
	for t.rt.finished.Load() < sealSnap {
		platform.Spin(attempt)
		attempt++
	}

	if committed {
		t.allocMgr.CommitMallocs()
		t.allocMgr.CommitFrees()
		t.deferredActs.OnCommit()
	} else {
		t.allocMgr.OnAbort()
		t.deferredActs.OnAbort()
	}
	t.clearLogs()
	return committed
}

// Abort is unreachable in steady operation — Commit decides commit vs.
// abort internally via value-log validation rather than Execute's
// Restart path — but is provided so Tx satisfies core.Descriptor and can
// unwind a panic raised from inside the transaction body before Commit
// ever runs. It only undoes the STARTED-counter join; a panic in the
// narrow window after a transaction has already sealed its cohort (taken
// a SEALED order number) is not recoverable here, same as the original,
// which has no abort path for a sealed, not-yet-finished member.
func (t *Tx) Abort() {
	if t.level == 0 {
		return
	}
	t.level = 0
	if t.joined {
		t.rt.started.Add(^uint64(0))
		t.joined = false
	}
	t.allocMgr.OnAbort()
	t.deferredActs.OnAbort()
	t.clearLogs()
}

func (t *Tx) clearLogs() {
	t.redo.Clear()
	t.reads.Clear()
}

func (t *Tx) Alloc(size uintptr) unsafe.Pointer { return t.allocMgr.Alloc(size) }

func (t *Tx) AlignedAlloc(alignment, size uintptr) unsafe.Pointer {
	return t.allocMgr.AlignedAlloc(alignment, size)
}

func (t *Tx) Free(ptr unsafe.Pointer) { t.allocMgr.Free(ptr) }

func (t *Tx) RegisterCommitHandler(fn func(arg any), arg any) {
	t.deferredActs.Register(fn, arg)
}

func (t *Tx) SetStackFrame(addr unsafe.Pointer) { t.frame.Override(uintptr(addr)) }

var _ core.Descriptor = (*Tx)(nil)
