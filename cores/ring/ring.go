// Package ring is the ring-filter core family of spec.md §4.5 (RingSW and
// RingMW): every committer publishes a bloom filter of its write set into
// a fixed-size ring indexed by commit order; readers validate by
// intersecting their own read filter against every entry published since
// their start, and a reader that falls more than the ring's capacity
// behind is forced to restart (ring overflow) rather than validate
// against an evicted entry.
package ring

import (
	"sync"
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/clock"
	"github.com/mfs409/gotm/internal/cm"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/platform"
	"github.com/mfs409/gotm/internal/ptmstatus"
	"github.com/mfs409/gotm/internal/redolog"
	ringfilter "github.com/mfs409/gotm/internal/ring"
	"github.com/mfs409/gotm/internal/sysalloc"
)

// Variant selects how concurrent writers serialize their publish step.
type Variant int

const (
	// SingleWriter (RingSW) takes one process-wide mutex around the whole
	// validate-writeback-publish sequence: simplest, but writers never
	// overlap.
	SingleWriter Variant = iota
	// MultiWriter (RingMW) lets writers overlap: each reserves its commit
	// slot with an atomic increment, waits only for the ring to have
	// published every slot before its own, then validates and publishes —
	// no global mutex (spec.md §4.5).
	MultiWriter
)

// Runtime is the process-wide ring-filter substrate.
type Runtime struct {
	Ring    *ringfilter.Ring
	Clock   clock.Clock
	Shared  *core.Shared
	variant Variant
	mu      sync.Mutex // SingleWriter only
	domain  persist.Domain
	sys     allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// NewRuntime returns a plain STM ring-filter runtime.
func NewRuntime(variant Variant, ringElements, maxThreads int, cmCfg cm.Config) *Runtime {
	return &Runtime{
		Ring:    ringfilter.NewRing(ringElements),
		Shared:  core.NewShared(maxThreads, cmCfg),
		variant: variant,
		sys:     sysalloc.Heap{},
	}
}

// NewPTMRuntime returns a ring-filter runtime driving the lazy PTM
// protocol: writes stay buffered until writeback, same as OrecLazy/NOrec.
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena, variant Variant, ringElements, maxThreads int, cmCfg cm.Config) *Runtime {
	rt := NewRuntime(variant, ringElements, maxThreads, cmCfg)
	rt.domain = domain
	rt.sys = arena
	return rt
}

// Tx is a ring-filter transaction descriptor.
type Tx struct {
	rt    *Runtime
	slot  int
	cmMgr *cm.Manager

	level        int
	startTime    uint64
	validatedTo  uint64
	irrevocable  bool
	redo         *redolog.Log
	readFilter   ringfilter.Filter
	writeFilter  ringfilter.Filter
	hasWrites    bool
	frame        frame.Filter
	allocMgr     *alloc.Manager
	deferredActs deferred.Queue
	status       ptmstatus.Word
}

// NewTx returns a fresh descriptor bound to rt.
func (rt *Runtime) NewTx() *Tx {
	slot := rt.Shared.AcquireSlot()
	t := &Tx{
		rt:    rt,
		slot:  slot,
		cmMgr: rt.Shared.NewContentionManager(slot),
		redo:  redolog.New(),
	}
	t.allocMgr = alloc.New(alloc.Enhanced, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Release returns t's slot to the runtime's free pool.
func (t *Tx) Release() { t.rt.Shared.ReleaseSlot(t.slot) }

// Begin samples the clock as both the start time and the point the read
// filter is already known valid from (spec.md §4.5).
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
	t.startTime = t.rt.Clock.Load()
	t.validatedTo = t.startTime
	t.readFilter.Clear()
	t.writeFilter.Clear()
	t.hasWrites = false
	t.rt.Shared.Epoch.OnBegin(t.slot, t.startTime)
	t.allocMgr.OnBegin()
	var mark byte
	t.frame.SetBottom(uintptr(unsafe.Pointer(&mark)))
}

// ReadRaw implements spec.md §4.5 Read: own buffered writes take
// priority; otherwise read memory directly and record the address in the
// read filter. A reader that has fallen behind the ring's capacity is
// forced to restart rather than trust a filter slot that may have been
// overwritten.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		return memio.Read(addr, width)
	}
	if t.rt.Ring.Overflowed(t.validatedTo, t.rt.Clock.Load()) {
		core.Restart()
	}
	memVal := memio.Read(addr, width)
	if v, _, full := t.redo.Lookup(addr, width, memVal); full {
		return v
	}
	t.readFilter.Add(a)
	return memVal
}

// WriteRaw implements spec.md §4.5 Write: buffer into the redo log and
// record the address in the write filter that will be published at
// commit.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		memio.Write(addr, width, val)
		t.allocMgr.OnCapturedWrite(t.rt.domain, a, width)
		return
	}
	t.writeFilter.Add(a)
	t.hasWrites = true
	t.redo.Insert(addr, width, val)
}

// validate intersects the read filter against every ring entry published
// since validatedTo, advancing validatedTo on success.
func (t *Tx) validate() bool {
	last := t.rt.Ring.LastInit()
	for idx := t.validatedTo + 1; idx <= last; idx++ {
		if t.readFilter.Intersects(t.rt.Ring.At(idx)) {
			return false
		}
	}
	t.validatedTo = last
	return true
}

// Commit implements spec.md §4.5 Commit.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("ring: commit without a matching begin")
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

	if !t.validate() {
		t.doAbort()
		return false
	}

	if !t.hasWrites {
		t.rt.Shared.Epoch.Quiesce(t.slot, t.startTime)
		t.finishCommit()
		return true
	}

	var endTime uint64
	switch t.rt.variant {
	case SingleWriter:
		t.rt.mu.Lock()
		if !t.validate() {
			t.rt.mu.Unlock()
			t.doAbort()
			return false
		}
		endTime = t.rt.Clock.FetchAdd(1) + 1
		t.writeback()
		t.rt.Ring.Publish(endTime, &t.writeFilter)
		t.rt.Ring.MarkComplete(endTime)
		t.rt.mu.Unlock()
	case MultiWriter:
		endTime = t.rt.Clock.FetchAdd(1) + 1
		attempt := 0
		for t.rt.Ring.LastComplete() < endTime-1 {
			platform.Spin(attempt)
			attempt++
		}
		if !t.validate() {
			// Still have to publish our slot so later committers don't
			// stall waiting on LastComplete forever; publish an empty
			// filter (no writes applied) and report the conflict.
			t.rt.Ring.Publish(endTime, &ringfilter.Filter{})
			t.rt.Ring.MarkComplete(endTime)
			t.doAbort()
			return false
		}
		t.writeback()
		t.rt.Ring.Publish(endTime, &t.writeFilter)
		t.rt.Ring.MarkComplete(endTime)
	}

	if t.rt.domain != nil {
		t.rt.domain.Fence()
	}
	t.allocMgr.CommitMallocs()
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	t.rt.Shared.Epoch.Quiesce(t.slot, endTime)
	t.finishCommit()
	return true
}

func (t *Tx) writeback() {
	if t.rt.domain != nil {
		t.status.SetNeedsRedo(uintptr(unsafe.Pointer(t.redo)), t.rt.domain)
	}
	t.redo.Writeback(
		func(addr uintptr, b byte) { memio.WriteByte(addr, b) },
		func(addr uintptr, n uintptr) {
			if t.rt.domain != nil {
				t.rt.domain.Flush(addr, n)
			}
		},
	)
}

func (t *Tx) finishCommit() {
	t.allocMgr.CommitFrees()
	t.rt.Shared.Epoch.Clear(t.slot)
	t.deferredActs.OnCommit()
	t.cmMgr.AfterCommit()
	t.clearLogs()
}

// Abort implements spec.md §4.5 Abort: since writes only ever live in the
// redo log, unwinding is discarding it.
func (t *Tx) Abort() {
	if t.level == 0 {
		return
	}
	t.level = 0
	t.doAbort()
}

func (t *Tx) doAbort() {
	t.level = 0
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	t.allocMgr.OnAbort()
	t.rt.Shared.Epoch.Clear(t.slot)
	t.deferredActs.OnAbort()
	t.cmMgr.AfterAbort()
	t.clearLogs()
}

func (t *Tx) clearLogs() {
	t.redo.Clear()
	t.readFilter.Clear()
	t.writeFilter.Clear()
	t.hasWrites = false
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
