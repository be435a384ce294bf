// Package oreceager is the eager-locking orec core (spec.md §4.2):
// write-in-place with undo logging, encounter-time locking, and a global
// version clock. Generalizes the teacher's undoTx.go (pooled undo logs,
// reverse-replay abort) by adding the orec table, read-set validation, and
// clock bookkeeping the teacher's single-mutex-free pmem design didn't
// need.
package oreceager

import (
	"unsafe"

	"github.com/mfs409/gotm/core"
	"github.com/mfs409/gotm/internal/alloc"
	"github.com/mfs409/gotm/internal/clock"
	"github.com/mfs409/gotm/internal/cm"
	"github.com/mfs409/gotm/internal/deferred"
	"github.com/mfs409/gotm/internal/frame"
	"github.com/mfs409/gotm/internal/memio"
	"github.com/mfs409/gotm/internal/minivector"
	"github.com/mfs409/gotm/internal/orec"
	"github.com/mfs409/gotm/internal/persist"
	"github.com/mfs409/gotm/internal/ptmstatus"
	"github.com/mfs409/gotm/internal/sysalloc"
	"github.com/mfs409/gotm/internal/undolog"
)

// Runtime is the process-wide eager-orec substrate: the orec table, the
// clock, and the shared epoch/contention-manager state.
type Runtime struct {
	Orecs  *orec.Table
	Clock  clock.Clock
	Shared *core.Shared
	domain persist.Domain // nil for the STM build
	sys    allocator
}

type allocator interface {
	Alloc(size uintptr) unsafe.Pointer
	AlignedAlloc(align, size uintptr) unsafe.Pointer
	Free(unsafe.Pointer)
}

// Option configures a Runtime.
type Option func(*config)

type config struct {
	orecCount  int
	maxThreads int
	cmConfig   cm.Config
}

func defaultConfig() config {
	return config{orecCount: 1 << 20, maxThreads: 256, cmConfig: cm.DefaultConfig()}
}

// WithOrecCount overrides the orec table size (must be a power of two).
func WithOrecCount(n int) Option { return func(c *config) { c.orecCount = n } }

// WithMaxThreads overrides the epoch table / slot table size.
func WithMaxThreads(n int) Option { return func(c *config) { c.maxThreads = n } }

// WithContentionManager overrides the contention-manager policy.
func WithContentionManager(cfg cm.Config) Option { return func(c *config) { c.cmConfig = cfg } }

// NewRuntime returns a plain STM eager-orec runtime.
func NewRuntime(opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Runtime{
		Orecs:  orec.NewTable(cfg.orecCount),
		Shared: core.NewShared(cfg.maxThreads, cfg.cmConfig),
		sys:    sysalloc.Heap{},
	}
}

// NewPTMRuntime returns an eager-orec runtime whose writes are flushed
// through domain and whose allocations come from an NVM-backed arena,
// driving the eager PTM persist-ordering protocol of spec.md §4.15.
func NewPTMRuntime(domain persist.Domain, arena *sysalloc.Arena, opts ...Option) *Runtime {
	rt := NewRuntime(opts...)
	rt.domain = domain
	rt.sys = arena
	return rt
}

// Tx is an eager-orec transaction descriptor.
type Tx struct {
	rt    *Runtime
	slot  int
	cmMgr *cm.Manager

	level        int
	startTime    uint64
	irrevocable  bool
	undo         *undolog.Log
	readSet      *minivector.Vector[*orec.Orec]
	lockSet      *minivector.Vector[*orec.Orec]
	frame        frame.Filter
	allocMgr     *alloc.Manager
	deferredActs deferred.Queue
	status       ptmstatus.Word
}

// NewTx returns a fresh descriptor bound to rt, acquiring a stable slot
// for its lifetime (spec.md §3: "a stable small integer slot acquired at
// first use").
func (rt *Runtime) NewTx() *Tx {
	slot := rt.Shared.AcquireSlot()
	t := &Tx{
		rt:      rt,
		slot:    slot,
		cmMgr:   rt.Shared.NewContentionManager(slot),
		undo:    undolog.New(undolog.SmallLogCapacity),
		readSet: minivector.New[*orec.Orec](64),
		lockSet: minivector.New[*orec.Orec](16),
	}
	t.allocMgr = alloc.New(alloc.Enhanced, rt.sys.Alloc, rt.sys.Free).WithAlignedAlloc(rt.sys.AlignedAlloc)
	return t
}

// Release returns t's slot to the runtime's free pool. Call once the
// owning thread is done with t.
func (t *Tx) Release() { t.rt.Shared.ReleaseSlot(t.slot) }

// Begin samples the clock, announces the epoch, and — if the contention
// manager says so — attempts to escalate to irrevocability (spec.md §4.1,
// §4.2).
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
	t.rt.Shared.Epoch.OnBegin(t.slot, t.startTime)
	t.allocMgr.OnBegin()
	var mark byte
	t.frame.SetBottom(uintptr(unsafe.Pointer(&mark)))
}

// ReadRaw implements spec.md §4.2 Read.
func (t *Tx) ReadRaw(addr unsafe.Pointer, width uintptr) uint64 {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		return memio.Read(addr, width)
	}
	o := t.rt.Orecs.For(a)
	for {
		pre := o.Load()
		val := memio.Read(addr, width)
		post := o.Load()
		if pre == post {
			if orec.IsLocked(pre) {
				if orec.Owner(pre) == t.slot {
					return val
				}
				core.Restart()
			}
			if pre <= t.startTime {
				t.readSet.Push(o)
				return val
			}
		}
		t.extendSnapshot()
	}
}

// WriteRaw implements spec.md §4.2 Write.
func (t *Tx) WriteRaw(addr unsafe.Pointer, width uintptr, val uint64) {
	a := uintptr(addr)
	if t.irrevocable || t.allocMgr.IsCaptured(a) || t.frame.IsPrivate(a) {
		memio.Write(addr, width, val)
		t.allocMgr.OnCapturedWrite(t.rt.domain, a, width)
		return
	}
	o := t.rt.Orecs.For(a)
	for {
		pre := o.Load()
		if orec.IsLocked(pre) {
			if orec.Owner(pre) == t.slot {
				break
			}
			core.Restart()
		}
		if pre > t.startTime {
			t.extendSnapshot()
			continue
		}
		acquired, _ := o.TryLock(t.slot, t.startTime)
		if !acquired {
			core.Restart()
		}
		if t.rt.domain != nil && t.undo.Len() == 0 {
			t.status.SetNeedsUndo(uintptr(unsafe.Pointer(t.undo)), t.rt.domain)
		}
		t.lockSet.Push(o)
		break
	}
	prior := memio.Read(addr, width)
	t.undo.Record(a, width, prior)
	memio.Write(addr, width, val)
	if t.rt.domain != nil {
		t.rt.domain.Flush(a, width)
	}
}

func (t *Tx) extendSnapshot() {
	fresh := t.rt.Clock.Load()
	if !t.validateReadSet() {
		core.Restart()
	}
	t.startTime = fresh
	t.rt.Shared.Epoch.SetEpoch(t.slot, fresh)
}

func (t *Tx) validateReadSet() bool {
	ok := true
	t.readSet.Each(func(_ int, o *orec.Orec) bool {
		v := o.Load()
		if orec.IsLocked(v) {
			if orec.Owner(v) != t.slot {
				ok = false
				return false
			}
			return true
		}
		if v > t.startTime {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// Commit implements spec.md §4.2 Commit. It returns false exactly when it
// detected a conflict and has already unwound the attempt.
func (t *Tx) Commit() bool {
	if t.level == 0 {
		core.Fatal("oreceager: commit without a matching begin")
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

	if t.lockSet.Len() == 0 {
		// Read-only fast path (spec.md §4.1).
		t.rt.Shared.Epoch.Quiesce(t.slot, t.startTime)
		t.finishCommit()
		return true
	}

	endTime := t.rt.Clock.FetchAdd(1) + 1
	if endTime != t.startTime+1 && !t.validateReadSet() {
		t.doAbort()
		return false
	}
	if t.rt.domain != nil {
		t.allocMgr.Precommit(t.rt.domain)
		t.rt.domain.Fence()
	}
	t.allocMgr.CommitMallocs()
	t.lockSet.Each(func(_ int, o *orec.Orec) bool {
		o.Release(endTime)
		return true
	})
	if t.rt.domain != nil {
		t.status.Clear(t.rt.domain)
	}
	t.rt.Shared.Epoch.Quiesce(t.slot, endTime)
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

// Abort implements spec.md §4.2 Abort.
func (t *Tx) Abort() {
	if t.level == 0 {
		return
	}
	t.level = 0
	t.doAbort()
}

func (t *Tx) doAbort() {
	t.level = 0
	t.undo.ReverseReplay(func(addr uintptr, width uintptr, prior uint64) {
		memio.Write(unsafe.Pointer(addr), width, prior)
		if t.rt.domain != nil {
			t.rt.domain.Flush(addr, width)
		}
	})
	var maxVersion uint64
	t.lockSet.Each(func(_ int, o *orec.Orec) bool {
		if v := o.ReleaseToPriorPlusOne(); v > maxVersion {
			maxVersion = v
		}
		return true
	})
	if maxVersion > 0 {
		t.rt.Clock.Bump(maxVersion)
	}
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
	t.undo.Clear()
	t.readSet.Clear()
	t.lockSet.Clear()
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
