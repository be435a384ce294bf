// Package tlrw is the byte-level reader-writer lock core of spec.md
// §4.6: no version clock at all, only per-address writer-slot ownership
// plus a reader-announcement byte per descriptor slot. A writer acquires
// exclusive ownership at encounter time and waits for announced readers
// to drain; a reader announces itself and restarts if some other
// descriptor already holds the write lock. Writes are undo-logged and
// applied in place, the same discipline as the eager orec core, just
// guarded by a coarser (address-striped, not versioned) lock.
package tlrw

import (
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/bytelock"
	"github.com/mfs409/gotm/internal/cm"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/platform"
	"github.com/mfs409/gotm/internal/ptmstatus"
	"github.com/mfs409/gotm/internal/sysalloc"
	"github.com/mfs409/gotm/internal/undolog"
)

// maxReaderWait bounds how many bounded-backoff spins a writer gives
// announced readers to drain before giving up and restarting, so a
// stalled reader cannot wedge every writer on the same bytelock forever.
const maxReaderWait = 16

// Runtime is the process-wide TLRW substrate: the bytelock table plus
// shared epoch/contention-manager state.
type Runtime struct {
	Locks  *bytelock.Table
	Shared *core.Shared
	domain persist.Domain
	sys    allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// NewRuntime returns a plain STM TLRW runtime.
func NewRuntime(lockCount, maxThreads int, cmCfg cm.Config) *Runtime {
	return &Runtime{
		Locks:  bytelock.NewTable(lockCount),
		Shared: core.NewShared(maxThreads, cmCfg),
		sys:    sysalloc.Heap{},
	}
}

// NewPTMRuntime returns a TLRW runtime driving the eager PTM protocol:
// writes land in place immediately behind the undo log, the same
// ordering OrecEager uses.
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena, lockCount, maxThreads int, cmCfg cm.Config) *Runtime {
	rt := NewRuntime(lockCount, maxThreads, cmCfg)
	rt.domain = domain
	rt.sys = arena
	return rt
}

// Tx is a TLRW transaction descriptor.
type Tx struct {
	rt    *Runtime
	slot  int
	cmMgr *cm.Manager

	level        int
	irrevocable  bool
	undo         *undolog.Log
	readLocks    map[*bytelock.Bytelock]struct{}
	writeLocks   map[*bytelock.Bytelock]struct{}
	frame        frame.Filter
	allocMgr     *alloc.Manager
	deferredActs deferred.Queue
	status       ptmstatus.Word
}

// NewTx returns a fresh descriptor bound to rt.
func (rt *Runtime) NewTx() *Tx {
	slot := rt.Shared.AcquireSlot()
	t := &Tx{
		rt:         rt,
		slot:       slot,
		cmMgr:      rt.Shared.NewContentionManager(slot),
		undo:       undolog.New(undolog.SmallLogCapacity),
		readLocks:  make(map[*bytelock.Bytelock]struct{}),
		writeLocks: make(map[*bytelock.Bytelock]struct{}),
	}
	t.allocMgr = alloc.New(alloc.Enhanced, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Release returns t's slot to the runtime's free pool.
func (t *Tx) Release() { t.rt.Shared.ReleaseSlot(t.slot) }

// Begin has no snapshot to take under TLRW — there is no version clock —
// only the usual irrevocability and allocator bookkeeping (spec.md §4.6).
func (t *Tx) Begin() {
	t.level++
	if t.level > 1 {
		return
	}
	if t.cmMgr.BeforeBegin() {
		if t.rt.Shared.Epoch.TryIrrevoc(t.slot) {
			t.irrevocable = true
		}
	}
	t.rt.Shared.Epoch.OnBegin(t.slot, 0)
	t.allocMgr.OnBegin()
	var mark byte
	t.frame.SetBottom(uintptr(unsafe.Pointer(&mark)))
}

// ReadRaw implements spec.md §4.6 Read: announce as a reader, restart if
// some other descriptor already owns the write lock.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		return memio.Read(addr, width)
	}
	bl := t.rt.Locks.For(a)
	if _, held := t.writeLocks[bl]; held {
		return memio.Read(addr, width)
	}
	if _, announced := t.readLocks[bl]; !announced {
		if owner := bl.Owner(); owner != 0 && int(owner-1) != t.slot {
			core.Restart()
		}
		bl.AnnounceReader(t.slot)
		if owner := bl.Owner(); owner != 0 && int(owner-1) != t.slot {
			bl.RetractReader(t.slot)
			core.Restart()
		}
		t.readLocks[bl] = struct{}{}
	}
	return memio.Read(addr, width)
}

// WriteRaw implements spec.md §4.6 Write: acquire exclusive ownership of
// the address's bytelock, wait for any other announced readers to drain,
// then undo-log and store in place.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		memio.Write(addr, width, val)
		t.allocMgr.OnCapturedWrite(t.rt.domain, a, width)
		return
	}
	bl := t.rt.Locks.For(a)
	if _, held := t.writeLocks[bl]; !held {
		if !bl.TryAcquireWriter(t.slot) {
			core.Restart()
		}
		if _, wasReader := t.readLocks[bl]; wasReader {
			bl.RetractReader(t.slot)
			delete(t.readLocks, bl)
		}
		for attempt := 0; bl.AnyOtherReader(t.slot); attempt++ {
			if attempt >= maxReaderWait {
				bl.ReleaseWriter()
				core.Restart()
			}
			platform.Spin(attempt)
		}
		t.writeLocks[bl] = struct{}{}
	}
	prior := memio.Read(addr, width)
	t.undo.Record(a, width, prior)
	if t.rt.domain != nil && t.undo.Len() == 1 {
		t.status.SetNeedsUndo(uintptr(unsafe.Pointer(t.undo)), t.rt.domain)
	}
	memio.Write(addr, width, val)
	if t.rt.domain != nil {
		t.rt.domain.Flush(a, width)
	}
}

// Commit implements spec.md §4.6 Commit: release every held bytelock,
// retracting reader announcements first and then clearing writer locks.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("tlrw: commit without a matching begin")
	}
	t.level--
	if t.level > 0 {
		return true
	}
	if t.irrevocable {
		t.rt.Shared.Epoch.ReleaseIrrevoc(t.slot)
		t.finishCommit()
		return true
	}
	if t.rt.domain != nil && len(t.writeLocks) > 0 {
		t.rt.domain.Fence()
	}
	t.allocMgr.CommitMallocs()
	for bl := range t.readLocks {
		bl.RetractReader(t.slot)
	}
	for bl := range t.writeLocks {
		bl.ReleaseWriter()
	}
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	t.finishCommit()
	return true
}

func (t *Tx) finishCommit() {
	t.allocMgr.CommitFrees()
	t.rt.Shared.Epoch.Clear(t.slot)
	t.deferredActs.OnCommit()
	t.cmMgr.AfterCommit()
	t.clearLogs()
}

// Abort implements spec.md §4.6 Abort: reverse-replay the undo log before
// releasing any lock, so no other descriptor can observe the partially
// undone state.
func (t *Tx) Abort() {
	if t.level == 0 {
		return
	}
	t.level = 0
	t.undo.ReverseReplay(func(addr uintptr, width uintptr, prior uint64) {
		memio.Write(unsafe.Pointer(addr), width, prior)
		if t.rt.domain != nil {
			t.rt.domain.Flush(addr, width)
		}
	})
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	for bl := range t.readLocks {
		bl.RetractReader(t.slot)
	}
	for bl := range t.writeLocks {
		bl.ReleaseWriter()
	}
	t.allocMgr.OnAbort()
	t.rt.Shared.Epoch.Clear(t.slot)
	t.deferredActs.OnAbort()
	t.cmMgr.AfterAbort()
	t.clearLogs()
}

func (t *Tx) clearLogs() {
	t.undo.Clear()
	for bl := range t.readLocks {
		delete(t.readLocks, bl)
	}
	for bl := range t.writeLocks {
		delete(t.writeLocks, bl)
	}
	t.irrevocable = false
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
